package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusAgainstRunningDaemon(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer api.Close()

	env := setupCLITestEnv(t, api.URL)
	seedFormItem(t, env, "/api/inspections")

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon")
	requireContains(t, out, "sqlite")
	requireContains(t, out, "pending")
}

func TestStatusJSONReportsCounts(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer api.Close()

	env := setupCLITestEnv(t, api.URL)
	seedFormItem(t, env, "/api/inspections")

	out, _, err := runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	status, ok := doc["status"].(map[string]any)
	if !ok {
		t.Fatalf("doc = %+v", doc)
	}
	if status["pending"] != float64(1) || status["total"] != float64(1) {
		t.Fatalf("status = %+v", status)
	}
	if status["engine"] != "sqlite" {
		t.Fatalf("engine = %v", status["engine"])
	}
	usage, ok := doc["usage"].(map[string]any)
	if !ok {
		t.Fatalf("doc = %+v", doc)
	}
	if usage["items"] != float64(1) {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestStatusFallsBackWhenDaemonUnreachable(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer api.Close()

	env := setupCLITestEnv(t, api.URL)
	env.cancel()
	env.server.Close()

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")
}
