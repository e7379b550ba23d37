/*
Copyright 2024 Parsec Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Equal(t, defaultListenAddr, cfg.Server.ListenAddr)
	require.Equal(t, defaultKeepalive, cfg.Server.Keepalive)
	require.Equal(t, "memory", cfg.Server.Backend)
	require.Equal(t, "info", cfg.Log.Severity)
	require.Equal(t, "text", cfg.Log.Format)
}

func TestCheckAndSetDefaultsRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Backend: "dynamo"}}
	err := cfg.CheckAndSetDefaults()
	require.Error(t, err)
}

func TestCheckAndSetDefaultsRejectsNegativeKeepalive(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Keepalive: -time.Second}}
	err := cfg.CheckAndSetDefaults()
	require.Error(t, err)
}

func TestCheckAndSetDefaultsRejectsBadSeverity(t *testing.T) {
	cfg := &Config{Log: LogConfig{Severity: "deafening"}}
	err := cfg.CheckAndSetDefaults()
	require.Error(t, err)
}

func TestLoadFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parsec.yaml")
	contents := `
server:
  listen_addr: 127.0.0.1:9999
  keepalive: 30s
log:
  severity: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.Server.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.Server.Keepalive)
	require.Equal(t, "debug", cfg.Log.Severity)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFileMissingReturnsError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNewLoggerHonorsFormat(t *testing.T) {
	logger, err := LogConfig{Severity: "warn", Format: "json"}.NewLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)
}
