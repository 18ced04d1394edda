package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"

	"github.com/spf13/cobra"
)

type storeConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"accesskey"`
	Secret    string `json:"secret"`
	SSL       bool   `json:"ssl"`
	Bucket    string `json:"bucket"`
}

type submitRequest struct {
	MinioConfig  storeConfig `json:"minio_config"`
	RootPath     string      `json:"root_path,omitempty"`
	ProfileName  string      `json:"profile_name,omitempty"`
	WebhookURL   string      `json:"webhook_url,omitempty"`
	ProfilesPath string      `json:"profiles_path,omitempty"`
}

type resultRequest struct {
	MinioConfig storeConfig `json:"minio_config"`
	RootPath    string      `json:"root_path,omitempty"`
}

type metadataRequest struct {
	CrateJSON    string `json:"crate_json"`
	ProfileName  string `json:"profile_name,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
	ProfilesPath string `json:"profiles_path,omitempty"`
}

// acceptedResponse is printed for requests that were queued.
type acceptedResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

type validationIssue struct {
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Check     string `json:"check"`
	FocusNode string `json:"focus_node"`
}

type validationResult struct {
	Passed              bool              `json:"passed"`
	ProfileIdentifier   string            `json:"profile_identifier"`
	RequirementSeverity string            `json:"requirement_severity"`
	Issues              []validationIssue `json:"issues"`
}

var (
	submitCmd = &cobra.Command{
		Use:   "submit <crate-id>",
		Short: "Queue validation of a crate stored in the object store",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	resultCmd = &cobra.Command{
		Use:   "result <crate-id>",
		Short: "Print the stored validation result of a crate",
		Args:  cobra.ExactArgs(1),
		RunE:  runResult,
	}
	metadataCmd = &cobra.Command{
		Use:   "metadata <ro-crate-metadata.json|->",
		Short: "Validate a metadata document without payload files",
		Args:  cobra.ExactArgs(1),
		RunE:  runMetadata,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{submitCmd, resultCmd} {
		f := cmd.Flags()
		f.String("endpoint", os.Getenv("MINIO_ENDPOINT"), "Object store endpoint (host:port)")
		f.String("access-key", os.Getenv("MINIO_ACCESS_KEY"), "Object store access key")
		f.String("secret-key", os.Getenv("MINIO_SECRET_KEY"), "Object store secret key")
		f.String("bucket", os.Getenv("MINIO_BUCKET_NAME"), "Bucket holding the crates")
		f.Bool("ssl", envBool("MINIO_SSL"), "Use TLS for the object store")
		f.String("root-path", "", "Key prefix the crate lives under")
	}
	for _, cmd := range []*cobra.Command{submitCmd, metadataCmd} {
		f := cmd.Flags()
		f.String("profile", "", "Profile identifier (default: detected by the server)")
		f.String("webhook", "", "URL the server posts the result to")
		f.String("profiles-path", "", "Profiles directory on the server, relative to its PROFILES_PATH")
	}
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func storeFlags(cmd *cobra.Command) (storeConfig, string) {
	f := cmd.Flags()
	var cfg storeConfig
	cfg.Endpoint, _ = f.GetString("endpoint")
	cfg.AccessKey, _ = f.GetString("access-key")
	cfg.Secret, _ = f.GetString("secret-key")
	cfg.Bucket, _ = f.GetString("bucket")
	cfg.SSL, _ = f.GetBool("ssl")
	rootPath, _ := f.GetString("root-path")
	return cfg, rootPath
}

func requestFlags(cmd *cobra.Command) (profile, webhook, profilesPath string) {
	f := cmd.Flags()
	profile, _ = f.GetString("profile")
	webhook, _ = f.GetString("webhook")
	profilesPath, _ = f.GetString("profiles-path")
	return profile, webhook, profilesPath
}

func validationPath(crateID string) string {
	return "/v1/ro_crates/" + url.PathEscape(crateID) + "/validation"
}

func runSubmit(cmd *cobra.Command, args []string) error {
	out, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	store, rootPath := storeFlags(cmd)
	profile, webhook, profilesPath := requestFlags(cmd)

	resp, err := newClient().do(http.MethodPost, validationPath(args[0]), submitRequest{
		MinioConfig:  store,
		RootPath:     rootPath,
		ProfileName:  profile,
		WebhookURL:   webhook,
		ProfilesPath: profilesPath,
	}, http.StatusAccepted)
	if err != nil {
		return err
	}
	return printAccepted(out, resp)
}

func runResult(cmd *cobra.Command, args []string) error {
	out, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	store, rootPath := storeFlags(cmd)

	resp, err := newClient().do(http.MethodGet, validationPath(args[0]), resultRequest{
		MinioConfig: store,
		RootPath:    rootPath,
	})
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(resp.body, &v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return printResult(out, v)
}

func runMetadata(cmd *cobra.Command, args []string) error {
	out, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	var doc []byte
	if args[0] == "-" {
		doc, err = io.ReadAll(cmd.InOrStdin())
	} else {
		doc, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	profile, webhook, profilesPath := requestFlags(cmd)

	resp, err := newClient().do(http.MethodPost, "/v1/ro_crates/validate_metadata", metadataRequest{
		CrateJSON:    string(doc),
		ProfileName:  profile,
		WebhookURL:   webhook,
		ProfilesPath: profilesPath,
	}, http.StatusOK, http.StatusAccepted)
	if err != nil {
		return err
	}
	if resp.status == http.StatusAccepted {
		return printAccepted(out, resp)
	}

	var wrapped struct {
		Result any `json:"result"`
	}
	if err := json.Unmarshal(resp.body, &wrapped); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return printResult(out, wrapped.Result)
}

func printAccepted(out *printer, resp *response) error {
	var accepted acceptedResponse
	if err := json.Unmarshal(resp.body, &accepted); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	if resp.location != "" {
		accepted.JobID = path.Base(resp.location)
	}
	if out.document() {
		return out.emit(accepted)
	}
	return out.table(newTable("Job", "Message").add(accepted.JobID, accepted.Message))
}

// printResult renders a validation result. A string result is the reason a
// validation could not run.
func printResult(out *printer, v any) error {
	if out.document() {
		return out.emit(v)
	}
	if reason, ok := v.(string); ok {
		out.printf("Validation failed: %s\n", reason)
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var res validationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}

	out.printf("Passed: %t\nProfile: %s\nSeverity: %s\n", res.Passed, res.ProfileIdentifier, res.RequirementSeverity)
	if len(res.Issues) == 0 {
		return nil
	}
	issues := newTable("Severity", "Check", "Focus", "Message")
	for _, issue := range res.Issues {
		issues.add(issue.Severity, issue.Check, issue.FocusNode, clip(issue.Message, 80))
	}
	out.printf("\n")
	return out.table(issues)
}
