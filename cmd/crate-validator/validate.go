package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/crateworks/crate-validator/pkg/validator"
)

var errNotValid = errors.New("crate is not valid")

var validateCmd = newValidateCmd()

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <crate-dir|crate.zip|ro-crate-metadata.json>",
		Short: "Validate a local crate and print the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	f := cmd.Flags()
	f.String("profile", "", "Profile identifier or name (default: detected from conformsTo)")
	f.String("profiles-path", "", "Directory with additional profiles")
	f.String("severity", "REQUIRED", "Lowest severity to check: REQUIRED, RECOMMENDED or OPTIONAL")
	f.StringSlice("skip", nil, "Check ids to skip")
	f.Bool("metadata-only", false, "Treat the argument as a metadata document without payload files")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	profile, _ := flags.GetString("profile")
	profilesPath, _ := flags.GetString("profiles-path")
	severityName, _ := flags.GetString("severity")
	skip, _ := flags.GetStringSlice("skip")
	metadataOnly, _ := flags.GetBool("metadata-only")

	severity, err := validator.ParseSeverity(severityName)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	registry, err := validator.NewRegistry(profilesPath, logger)
	if err != nil {
		return fmt.Errorf("load validation profiles: %w", err)
	}

	settings := validator.NewSettings().
		WithProfile(profile).
		WithSeverity(severity).
		WithSkipChecks(skip...)
	if metadataOnly {
		doc, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		settings = settings.WithMetadata(doc).WithSkipChecks(validator.MetadataOnlySkipChecks...)
	} else {
		settings = settings.WithCratePath(args[0])
	}

	engine := validator.NewRuleEngine(registry, "", logger)
	outcome := validator.NewAdapter(engine, logger).Validate(cmd.Context(), settings)
	if outcome.Failed() {
		return fmt.Errorf("validation failed: %s", outcome.Failure)
	}
	if err := writeResult(cmd.OutOrStdout(), outcome.Result); err != nil {
		return err
	}
	if !outcome.Result.Passed {
		return errNotValid
	}
	return nil
}

func writeResult(w io.Writer, result *validator.Result) error {
	raw, err := result.JSON()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func redactedBroker(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
