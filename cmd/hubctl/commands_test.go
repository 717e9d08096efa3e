// commands_test.go: end-to-end tests for hubctl subcommands
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hubconfig "github.com/agilira/go-hubconfig"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runHubctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, "version: 40\nport: 70000\nlegacy_plugin_dir: /opt\n")

	out, err := runHubctl(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "status:  ok")
	assert.Contains(t, out, "version: 40 -> 81")
	assert.Contains(t, out, "reset    port")
	assert.Contains(t, out, "kept     legacy_plugin_dir")

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "version: 40", "validate never writes")
}

func TestValidateCommandDegraded(t *testing.T) {
	path := writeConfig(t, "port: [1\n")

	out, err := runHubctl(t, "validate", "-c", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDegraded)
	assert.Contains(t, out, "status:  degraded")
}

func TestMigrateCommandWrite(t *testing.T) {
	path := writeConfig(t, "version: 76\nxtts_host: voice.local\nxtts_port: 8021\n")

	out, err := runHubctl(t, "migrate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "version 76 -> 81 (5 steps)")
	saved, _ := os.ReadFile(path)
	assert.Contains(t, string(saved), "version: 76")

	out, err = runHubctl(t, "migrate", "-c", path, "--write")
	require.NoError(t, err)
	assert.Contains(t, out, "written to "+path)

	saved, err = os.ReadFile(path)
	require.NoError(t, err)
	doc, err := hubconfig.Decode(saved, hubconfig.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, hubconfig.CurrentSchemaVersion, doc.Version)
	url, _ := doc.Get("xtts_base_url")
	assert.True(t, hubconfig.String("http://voice.local:8021").Equal(url))
}

func TestSetAndGetCommands(t *testing.T) {
	path := writeConfig(t, "version: 81\n")

	out, err := runHubctl(t, "set", "-c", path, "temperature", "0.8")
	require.NoError(t, err)
	assert.Equal(t, "temperature = 0.8\n", out)

	out, err = runHubctl(t, "get", "-c", path, "temperature")
	require.NoError(t, err)
	assert.Equal(t, "0.8\n", out)

	_, err = runHubctl(t, "set", "-c", path, "top_p", "1.5")
	require.Error(t, err)
	assert.True(t, hubconfig.IsValidationError(err))

	_, err = runHubctl(t, "get", "-c", path, "no_such_key")
	assert.True(t, hubconfig.IsSchemaError(err))

	out, err = runHubctl(t, "set", "-c", path, "hf_token", "hf_secret")
	require.NoError(t, err)
	assert.Equal(t, "hf_token = [REDACTED]\n", out)
}

func TestSetCommandRefusesDegraded(t *testing.T) {
	path := writeConfig(t, "{{{")
	_, err := runHubctl(t, "set", "-c", path, "port", "9700")
	require.Error(t, err)

	saved, _ := os.ReadFile(path)
	assert.Equal(t, "{{{", string(saved))
}

func TestGatesCommand(t *testing.T) {
	path := writeConfig(t, "version: 81\nforce_accept_remote_access: true\n")
	out, err := runHubctl(t, "gates", "-c", path)
	require.NoError(t, err)

	var remote string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, hubconfig.GateRemoteAccess) {
			remote = line
		}
	}
	require.NotEmpty(t, remote, out)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(remote), "true"), remote)
}

func TestServicesCommand(t *testing.T) {
	path := writeConfig(t, "version: 81\nenable_ollama_service: true\n")

	out, err := runHubctl(t, "services", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SERVICE")
	assert.Contains(t, out, "http://localhost:11434")

	out, err = runHubctl(t, "services", "-c", path, "-o", "protojson")
	require.NoError(t, err)
	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), out)
	assert.Equal(t, true, decoded[hubconfig.ServiceOllama]["available"])

	_, err = runHubctl(t, "services", "-c", path, "-o", "xml")
	assert.Error(t, err)
}

func TestShowCommandRedacts(t *testing.T) {
	path := writeConfig(t, "version: 81\nhf_token: hf_secret\n")

	for _, format := range []string{"yaml", "json", "protojson"} {
		t.Run(format, func(t *testing.T) {
			out, err := runHubctl(t, "show", "-c", path, "-o", format)
			require.NoError(t, err)
			assert.NotContains(t, out, "hf_secret")
			assert.Contains(t, out, "[REDACTED]")
		})
	}
}

func TestMissingConfigUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	out, err := runHubctl(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "not found, defaults in effect")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
