package validator

import (
	"errors"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
)

// MetadataOnlySkipChecks lists the checks that cannot apply to a crate
// submitted as a bare metadata document.
var MetadataOnlySkipChecks = []string{"ro-crate-1.1_12.1"}

// Settings describes one validation run. Only fields that were set are
// passed on to the engine; use NewSettings and the With methods.
type Settings struct {
	cratePath    string
	metadata     []byte
	profile      string
	profilesPath string
	skipChecks   mapset.Set[string]
	severity     Severity
}

// NewSettings returns empty settings with the REQUIRED requirement severity.
func NewSettings() *Settings {
	return &Settings{skipChecks: mapset.NewThreadUnsafeSet[string](), severity: Required}
}

// WithCratePath sets a crate directory or .zip archive as the source.
func (s *Settings) WithCratePath(path string) *Settings {
	s.cratePath = path
	return s
}

// WithMetadata sets an inline metadata document as the source.
func (s *Settings) WithMetadata(doc []byte) *Settings {
	s.metadata = doc
	return s
}

// WithProfile selects a profile by identifier or name. An empty name leaves
// the profile to auto-detection.
func (s *Settings) WithProfile(name string) *Settings {
	s.profile = name
	return s
}

// WithProfilesPath adds a directory of extra profiles for this run.
func (s *Settings) WithProfilesPath(dir string) *Settings {
	s.profilesPath = dir
	return s
}

// WithSkipChecks excludes checks by id.
func (s *Settings) WithSkipChecks(ids ...string) *Settings {
	for _, id := range ids {
		if id != "" {
			s.skipChecks.Add(id)
		}
	}
	return s
}

// WithSeverity sets the requirement severity.
func (s *Settings) WithSeverity(sev Severity) *Settings {
	if sev != 0 {
		s.severity = sev
	}
	return s
}

func (s *Settings) CratePath() string    { return s.cratePath }
func (s *Settings) Metadata() []byte     { return s.metadata }
func (s *Settings) Profile() string      { return s.profile }
func (s *Settings) ProfilesPath() string { return s.profilesPath }
func (s *Settings) Severity() Severity   { return s.severity }

// Skipped reports whether the check id is excluded.
func (s *Settings) Skipped(id string) bool {
	return s.skipChecks != nil && s.skipChecks.Contains(id)
}

func (s *Settings) validate() error {
	switch {
	case s == nil:
		return errors.New("validation settings are nil")
	case s.cratePath == "" && s.metadata == nil:
		return errors.New("no crate source: set a crate path or metadata document")
	case s.cratePath != "" && s.metadata != nil:
		return errors.New("ambiguous crate source: both a crate path and a metadata document are set")
	}
	return nil
}

// LogValue logs only the fields that were set.
func (s *Settings) LogValue() slog.Value {
	var attrs []slog.Attr
	if s.cratePath != "" {
		attrs = append(attrs, slog.String("crate_path", s.cratePath))
	}
	if s.metadata != nil {
		attrs = append(attrs, slog.Int("metadata_bytes", len(s.metadata)))
	}
	if s.profile != "" {
		attrs = append(attrs, slog.String("profile", s.profile))
	}
	if s.profilesPath != "" {
		attrs = append(attrs, slog.String("profiles_path", s.profilesPath))
	}
	if s.skipChecks != nil && s.skipChecks.Cardinality() > 0 {
		attrs = append(attrs, slog.Any("skip_checks", s.skipChecks.ToSlice()))
	}
	attrs = append(attrs, slog.String("requirement_severity", s.severity.String()))
	return slog.GroupValue(attrs...)
}
