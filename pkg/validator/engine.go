// Package validator checks RO-Crates against conformance profiles.
//
// A profile is a YAML document listing checks. A check is a JSON Schema
// applied to the whole metadata document, a CEL expression over the
// document, its graph, the root data entity and the metadata descriptor, or
// a built-in check. Profiles can extend one another; a crate is matched to a
// profile through its conformsTo declarations unless one is requested.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/crateworks/crate-validator/pkg/crate"
)

// Engine validates a crate described by settings.
type Engine interface {
	Validate(ctx context.Context, settings *Settings) (*Result, error)
}

// RuleEngine runs profile checks.
type RuleEngine struct {
	registry *Registry
	workDir  string
	logger   *slog.Logger
}

// NewRuleEngine returns an engine reading profiles from registry. Zip crates
// are extracted under workDir (os.TempDir when empty).
func NewRuleEngine(registry *Registry, workDir string, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{registry: registry, workDir: workDir, logger: logger}
}

func (e *RuleEngine) Validate(ctx context.Context, settings *Settings) (*Result, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	c, cleanup, err := e.load(settings)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	profiles, err := e.registry.resolve(settings.ProfilesPath())
	if err != nil {
		return nil, err
	}

	var profile *Profile
	if name := settings.Profile(); name != "" {
		profile, err = profiles.lookup(name)
	} else {
		profile, err = profiles.detect(c.ConformsTo())
	}
	if err != nil {
		return nil, err
	}
	chain, err := profiles.chain(profile)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("validating crate", "settings", settings, "profile", profile.Identifier)

	in := newEvalInput(c)
	threshold := settings.Severity()
	result := &Result{
		ProfileIdentifier:   profile.Identifier,
		RequirementSeverity: threshold,
		Issues:              []Issue{},
		Summary:             Summary{Issues: map[string]int{}},
	}

	for _, p := range chain {
		for _, chk := range p.checks {
			if settings.Skipped(chk.ID()) {
				result.Summary.ChecksSkipped++
				continue
			}
			if chk.Severity() < threshold {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			issues, err := chk.run(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", chk.ID(), err)
			}
			result.Summary.ChecksRun++
			for _, issue := range issues {
				result.Issues = append(result.Issues, issue)
				result.Summary.Issues[issue.Severity.String()]++
			}
		}
	}

	result.Passed = len(result.Issues) == 0
	return result, nil
}

func (e *RuleEngine) load(settings *Settings) (*crate.Crate, func(), error) {
	noop := func() {}
	if settings.Metadata() != nil {
		c, err := crate.Parse(settings.Metadata())
		return c, noop, err
	}

	work, err := os.MkdirTemp(e.workDir, "crate-extract-")
	if err != nil {
		return nil, noop, fmt.Errorf("create extraction directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(work); err != nil {
			e.logger.Warn("failed to remove extraction directory", "path", work, "error", err)
		}
	}
	c, err := crate.Open(settings.CratePath(), work)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return c, cleanup, nil
}
