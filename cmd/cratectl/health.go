package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health and readiness",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	out, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	client := newClient()

	var healthResp map[string]any
	if err := client.getJSON("/healthz", &healthResp); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	var readyResp map[string]any
	resp, err := client.do(http.MethodGet, "/readyz", nil, http.StatusOK, http.StatusServiceUnavailable)
	if err == nil {
		err = json.Unmarshal(resp.body, &readyResp)
	}
	if err != nil {
		readyResp = map[string]any{"status": "unknown", "error": err.Error()}
	}

	if out.document() {
		return out.emit(map[string]any{
			"health":    healthResp,
			"readiness": readyResp,
		})
	}

	status, _ := healthResp["status"].(string)
	uptime, _ := healthResp["uptime"].(string)
	ready, _ := readyResp["status"].(string)
	checks := newTable("Check", "Status").
		add("Liveness", status).
		add("Uptime", uptime).
		add("Readiness", ready)

	components, _ := readyResp["components"].(map[string]any)
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, _ := components[name].(map[string]any)
		s, _ := c["status"].(string)
		checks.add("  "+name, s)
	}

	return out.table(checks)
}
