package validator

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var builtinProfiles embed.FS

// CheckSpec is one check as written in a profile document. Exactly one of
// Schema, Expr or Builtin is set.
type CheckSpec struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Severity string         `yaml:"severity"`
	Message  string         `yaml:"message"`
	Schema   map[string]any `yaml:"schema,omitempty"`
	Expr     string         `yaml:"expr,omitempty"`
	ForEach  string         `yaml:"forEach,omitempty"`
	Builtin  string         `yaml:"builtin,omitempty"`
}

// Profile is a named, versioned set of checks.
type Profile struct {
	Identifier  string      `yaml:"identifier"`
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Description string      `yaml:"description,omitempty"`
	ConformsTo  []string    `yaml:"conformsTo"`
	Extends     string      `yaml:"extends,omitempty"`
	Checks      []CheckSpec `yaml:"checks"`

	version *semver.Version
	checks  []check
	source  string
}

// SemVer is the parsed profile version.
func (p *Profile) SemVer() *semver.Version { return p.version }

// Source is the file the profile was loaded from.
func (p *Profile) Source() string { return p.source }

func parseProfile(data []byte, source string) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", source, err)
	}
	if p.Identifier == "" {
		return nil, fmt.Errorf("profile %s: identifier is required", source)
	}
	if p.Name == "" {
		p.Name = p.Identifier
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("profile %s: invalid version %q: %w", p.Identifier, p.Version, err)
	}
	p.version = v
	p.source = source

	seen := make(map[string]bool, len(p.Checks))
	for _, c := range p.Checks {
		if c.ID == "" {
			return nil, fmt.Errorf("profile %s: check without id", p.Identifier)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("profile %s: duplicate check id %q", p.Identifier, c.ID)
		}
		seen[c.ID] = true
	}
	return &p, nil
}

func loadProfiles(fsys fs.FS, label string) ([]*Profile, error) {
	matches, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	more, err := fs.Glob(fsys, "*.yml")
	if err != nil {
		return nil, err
	}
	matches = append(matches, more...)
	sort.Strings(matches)

	var out []*Profile
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		p, err := parseProfile(data, label+"/"+name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadBuiltinProfiles returns the profiles shipped with the binary.
func LoadBuiltinProfiles() ([]*Profile, error) {
	sub, err := fs.Sub(builtinProfiles, "profiles")
	if err != nil {
		return nil, err
	}
	return loadProfiles(sub, "builtin")
}

// LoadProfileDir reads every *.yaml profile directly inside dir.
func LoadProfileDir(dir string) ([]*Profile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("profiles path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("profiles path %s is not a directory", dir)
	}
	return loadProfiles(os.DirFS(dir), filepath.Clean(dir))
}

// profileSet indexes compiled profiles by identifier.
type profileSet map[string]*Profile

// merge adds profiles, replacing any with the same identifier.
func (ps profileSet) merge(profiles []*Profile) {
	for _, p := range profiles {
		ps[p.Identifier] = p
	}
}

func (ps profileSet) clone() profileSet {
	out := make(profileSet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// sorted returns profiles ordered by identifier.
func (ps profileSet) sorted() []*Profile {
	out := make([]*Profile, 0, len(ps))
	for _, p := range ps {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// chain returns p and its ancestors, root first.
func (ps profileSet) chain(p *Profile) ([]*Profile, error) {
	var out []*Profile
	visited := map[string]bool{}
	for cur := p; cur != nil; {
		if visited[cur.Identifier] {
			return nil, fmt.Errorf("profile %s: extends cycle", p.Identifier)
		}
		visited[cur.Identifier] = true
		out = append([]*Profile{cur}, out...)
		if cur.Extends == "" {
			break
		}
		parent, ok := ps[cur.Extends]
		if !ok {
			return nil, fmt.Errorf("profile %s extends unknown profile %q", cur.Identifier, cur.Extends)
		}
		cur = parent
	}
	return out, nil
}

func (ps profileSet) extends(p *Profile, ancestor string) bool {
	chain, err := ps.chain(p)
	if err != nil {
		return false
	}
	for _, c := range chain[:len(chain)-1] {
		if c.Identifier == ancestor {
			return true
		}
	}
	return false
}

// ErrProfileNotFound is returned for an unknown profile name.
var ErrProfileNotFound = errors.New("profile not found")

// lookup resolves name against identifiers first, then names; for a name
// shared by several versions the highest version wins.
func (ps profileSet) lookup(name string) (*Profile, error) {
	if p, ok := ps[name]; ok {
		return p, nil
	}
	var candidates []*Profile
	for _, p := range ps {
		if p.Name == name {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return highest(candidates), nil
}

// detect picks the profile a crate declares through conformsTo. When several
// match, profiles that extend another match are preferred, then the highest
// version. Without any match the highest ro-crate profile is used.
func (ps profileSet) detect(conformsTo []string) (*Profile, error) {
	declared := make(map[string]bool, len(conformsTo))
	for _, c := range conformsTo {
		declared[normalizeURI(c)] = true
	}

	var matches []*Profile
	for _, p := range ps.sorted() {
		for _, uri := range p.ConformsTo {
			if declared[normalizeURI(uri)] {
				matches = append(matches, p)
				break
			}
		}
	}

	var specific []*Profile
	for _, p := range matches {
		shadowed := false
		for _, q := range matches {
			if q != p && ps.extends(q, p.Identifier) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			specific = append(specific, p)
		}
	}
	if len(specific) > 0 {
		return highest(specific), nil
	}

	p, err := ps.lookup(baseProfileName)
	if err != nil {
		return nil, fmt.Errorf("no profile matches the crate and no %s profile is available", baseProfileName)
	}
	return p, nil
}

const baseProfileName = "ro-crate"

func highest(profiles []*Profile) *Profile {
	best := profiles[0]
	for _, p := range profiles[1:] {
		switch {
		case p.version.GreaterThan(best.version):
			best = p
		case p.version.Equal(best.version) && p.Identifier < best.Identifier:
			best = p
		}
	}
	return best
}

func normalizeURI(uri string) string {
	return strings.TrimSuffix(strings.TrimSpace(uri), "/")
}
