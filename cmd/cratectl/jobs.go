package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type jobInfo struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	CrateID      string `json:"crateId,omitempty"`
	RequestedAt  string `json:"requestedAt"`
	State        string `json:"state"`
	StartedAt    string `json:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
	AttemptCount int    `json:"attemptCount"`
	LastError    string `json:"lastError,omitempty"`
	DurationMs   int64  `json:"durationMs,omitempty"`
	Result       any    `json:"result,omitempty"`
}

type jobList struct {
	Jobs          []jobInfo `json:"jobs"`
	NextPageToken string    `json:"nextPageToken"`
	TotalSize     int64     `json:"totalSize"`
}

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show a validation job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List validation jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobs,
}

func init() {
	f := jobsCmd.Flags()
	f.String("kind", "", "Filter by job kind")
	f.String("crate", "", "Filter by crate id")
	f.String("state", "", "Filter by state")
	f.Int("page-size", 20, "Page size")
	f.String("page-token", "", "Page token from a previous listing")
}

func jobTable(list ...jobInfo) *table {
	t := newTable("ID", "Kind", "Crate", "State", "Attempts", "Error")
	for _, j := range list {
		t.add(j.ID, j.Kind, j.CrateID, j.State, strconv.Itoa(j.AttemptCount), clip(j.LastError, 60))
	}
	return t
}

func runJob(cmd *cobra.Command, args []string) error {
	out, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	var job jobInfo
	if err := newClient().getJSON("/v1/jobs/"+url.PathEscape(args[0]), &job); err != nil {
		return err
	}
	if out.document() {
		return out.emit(job)
	}
	return out.table(jobTable(job))
}

func runJobs(cmd *cobra.Command, args []string) error {
	out, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	q := url.Values{}
	for flag, param := range map[string]string{"kind": "kind", "crate": "crateId", "state": "state", "page-token": "pageToken"} {
		if v, _ := f.GetString(flag); v != "" {
			q.Set(param, v)
		}
	}
	if size, _ := f.GetInt("page-size"); size > 0 {
		q.Set("pageSize", strconv.Itoa(size))
	}

	var list jobList
	if err := newClient().getJSON("/v1/jobs?"+q.Encode(), &list); err != nil {
		return err
	}
	if out.document() {
		return out.emit(list)
	}
	if err := out.table(jobTable(list.Jobs...)); err != nil {
		return err
	}
	if list.NextPageToken != "" {
		out.printf("\nNext page: --page-token %s\n", list.NextPageToken)
	}
	return nil
}
