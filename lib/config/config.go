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

// Package config loads parsecd's single YAML configuration file into the
// small CheckAndSetDefaults-validated structs the rest of the server is
// built from, the way the teacher composes its per-service configs.
package config

import (
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr = "0.0.0.0:6770"
	defaultKeepalive  = 15 * time.Second
	defaultBackend    = "memory"
	defaultSeverity   = "info"
	defaultFormat     = "text"
)

// Config is parsecd's top-level configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the listener and the RPC/SSE surface (§6).
type ServerConfig struct {
	// ListenAddr is the host:port the HTTP handler binds to.
	ListenAddr string `yaml:"listen_addr"`
	// Keepalive is the SSE keep-alive tick interval (§8 S5).
	Keepalive time.Duration `yaml:"keepalive"`
	// Backend selects the Data Store implementation. Only "memory" is
	// built in; kept as a string rather than an enum so a future
	// persistent backend can be added without a config format break.
	Backend string `yaml:"backend"`
}

// LogConfig configures the process-wide logrus logger.
type LogConfig struct {
	Severity string `yaml:"severity"`
	Format   string `yaml:"format"`
}

// CheckAndSetDefaults validates c and fills in defaults for zero fields,
// following the same convention as every other component's Deps in this
// codebase.
func (c *Config) CheckAndSetDefaults() error {
	if err := c.Server.checkAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Log.checkAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

func (s *ServerConfig) checkAndSetDefaults() error {
	if s.ListenAddr == "" {
		s.ListenAddr = defaultListenAddr
	}
	if s.Keepalive == 0 {
		s.Keepalive = defaultKeepalive
	}
	if s.Keepalive < 0 {
		return trace.BadParameter("server.keepalive must not be negative")
	}
	if s.Backend == "" {
		s.Backend = defaultBackend
	}
	if s.Backend != "memory" {
		return trace.BadParameter("unsupported server.backend %q, only %q is built in", s.Backend, "memory")
	}
	return nil
}

func (l *LogConfig) checkAndSetDefaults() error {
	if l.Severity == "" {
		l.Severity = defaultSeverity
	}
	if l.Format == "" {
		l.Format = defaultFormat
	}
	if _, err := logrus.ParseLevel(l.Severity); err != nil {
		return trace.Wrap(err, "parsing log.severity %q", l.Severity)
	}
	switch l.Format {
	case "text", "json":
	default:
		return trace.BadParameter("unsupported log.format %q, must be %q or %q", l.Format, "text", "json")
	}
	return nil
}

// NewLogger builds the process-wide logger from LogConfig, mirroring the
// teacher's tshd command's ParseLevel-then-SetFormatter pattern.
func (l LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Severity)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	log := logrus.New()
	log.SetLevel(level)
	switch l.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// Default returns a Config with every field set to its default value, for
// use when parsecd is started without a configuration file.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.CheckAndSetDefaults()
	return cfg
}

// LoadFile reads and parses the YAML configuration file at path, applying
// defaults and validation via CheckAndSetDefaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err, "reading configuration file %v", path)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, trace.Wrap(err, "parsing configuration file %v", path)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}
