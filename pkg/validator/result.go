package validator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity ranks how strongly a profile requires a check to pass.
type Severity int

const (
	Optional Severity = iota + 1
	Recommended
	Required
)

func (s Severity) String() string {
	switch s {
	case Optional:
		return "OPTIONAL"
	case Recommended:
		return "RECOMMENDED"
	case Required:
		return "REQUIRED"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseSeverity accepts the names used in profiles, case-insensitively.
// MUST/SHOULD/MAY are accepted as aliases.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REQUIRED", "MUST":
		return Required, nil
	case "RECOMMENDED", "SHOULD":
		return Recommended, nil
	case "OPTIONAL", "MAY":
		return Optional, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Issue is a single failed check.
type Issue struct {
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Check     string   `json:"check"`
	FocusNode string   `json:"focus_node,omitempty"`
}

// Summary counts what the engine did.
type Summary struct {
	ChecksRun     int            `json:"checks_run"`
	ChecksSkipped int            `json:"checks_skipped"`
	Issues        map[string]int `json:"issues"`
}

// Result is the outcome of validating one crate against one profile.
type Result struct {
	Passed              bool     `json:"passed"`
	ProfileIdentifier   string   `json:"profile_identifier"`
	RequirementSeverity Severity `json:"requirement_severity"`
	Issues              []Issue  `json:"issues"`
	Summary             Summary  `json:"summary"`
}

// JSON returns the serialized result.
func (r *Result) JSON() ([]byte, error) {
	out := *r
	if out.Issues == nil {
		out.Issues = []Issue{}
	}
	if out.Summary.Issues == nil {
		out.Summary.Issues = map[string]int{}
	}
	return json.Marshal(out)
}
