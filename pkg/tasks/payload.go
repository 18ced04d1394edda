package tasks

import (
	"github.com/crateworks/crate-validator/pkg/objectstore"
)

// ReferencePayload is the job payload of a validation of a crate held in an
// object store.
type ReferencePayload struct {
	Store        objectstore.Config `json:"minio_config"`
	CrateID      string             `json:"crate_id"`
	RootPath     string             `json:"root_path,omitempty"`
	ProfileName  string             `json:"profile_name,omitempty"`
	WebhookURL   string             `json:"webhook_url,omitempty"`
	ProfilesPath string             `json:"profiles_path,omitempty"`
}

// MetadataPayload is the job payload of a validation of an inline metadata
// document.
type MetadataPayload struct {
	CrateJSON    string `json:"crate_json"`
	ProfileName  string `json:"profile_name,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
	ProfilesPath string `json:"profiles_path,omitempty"`
}

// FailureNotice is sent to the webhook when a validation could not run.
type FailureNotice struct {
	ProfileName *string `json:"profile_name"`
	Error       string  `json:"error"`
}

func newFailureNotice(profile string, err error) FailureNotice {
	n := FailureNotice{Error: err.Error()}
	if profile != "" {
		n.ProfileName = &profile
	}
	return n
}
