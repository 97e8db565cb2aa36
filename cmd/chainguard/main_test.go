package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"chainguard", "help"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "chainguard")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"chainguard", "bogus"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "Unknown command")
}

func TestRun_InitMissingFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"chainguard", "init"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "--config is required")
}

func TestRun_InitValidConfig(t *testing.T) {
	path := t.TempDir() + "/config.json"
	payload := `{
		"name": "treasury",
		"default_threshold": {"required": 2, "total": 3},
		"supported_chains": ["ethereum"],
		"policies": []
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"chainguard", "init", "--config", path}, &stdout, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "treasury")
}

func TestRun_InitInvalidConfig(t *testing.T) {
	path := t.TempDir() + "/config.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"name": ""}`), 0o600))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"chainguard", "init", "--config", path}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "invalid config")
}

func TestRun_StatusUnreachable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"chainguard", "status", "--addr", "http://127.0.0.1:1"}, &stdout, &stderr)
	require.Equal(t, 1, code)
}
