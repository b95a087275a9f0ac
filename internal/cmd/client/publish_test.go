package client

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "qbull") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPublishCommandEmbeddedBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOG_FILE", dir+"/app.log")

	out, err := runCommand(t,
		"publish",
		"--backend", "embedded",
		"--data-dir", dir,
		"--stream", "Q1",
		"--field", "email=a@x",
		"--field", "subject=s",
		"--ordering-key", "K1",
	)
	if err != nil {
		t.Fatalf("execute: %v (%s)", err, out)
	}

	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	if jerr := json.Unmarshal([]byte(out), &resp); jerr != nil {
		t.Fatalf("parse output %q: %v", out, jerr)
	}
	if resp.Status != "OK" || resp.ID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPublishCommandRejectsBadField(t *testing.T) {
	dir := t.TempDir()
	_, err := runCommand(t,
		"publish",
		"--backend", "embedded",
		"--data-dir", dir,
		"--stream", "Q1",
		"--field", "not-a-pair",
	)
	if err == nil {
		t.Fatalf("expected error for malformed --field")
	}
}

func TestUnknownBackendRejected(t *testing.T) {
	_, err := runCommand(t,
		"kv", "get", "k",
		"--backend", "sqlite",
	)
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
