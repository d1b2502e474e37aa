// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads capkernel settings with koanf. Sources are layered:
// built-in defaults, then a YAML (or JSON) file, then an optional profile
// file next to it, then CAPKERNEL_* environment variables, then --set flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix selects the environment variables read by Load.
// CAPKERNEL_SESSION_MAX_STREAMS maps to session.max_streams.
const EnvPrefix = "CAPKERNEL_"

type Config struct {
	Log         LogConfig         `koanf:"log"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Session     SessionConfig     `koanf:"session"`
	Negotiation NegotiationConfig `koanf:"negotiation"`
	Catalog     CatalogConfig     `koanf:"catalog"`
	Audit       AuditConfig       `koanf:"audit"`
	Governance  GovernanceConfig  `koanf:"governance"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type SessionConfig struct {
	// MaxStreams bounds the number of distinct streams a session may open,
	// well-known streams included.
	MaxStreams int `koanf:"max_streams"`
}

type NegotiationConfig struct {
	Mode    string `koanf:"mode"` // strict, lenient
	Grammar string `koanf:"grammar"`
}

// CatalogConfig locates grammar snapshots. Dir is scanned for YAML/JSON
// grammar files; SQLitePath, when set, persists snapshots across runs.
type CatalogConfig struct {
	Dir        string `koanf:"dir"`
	SQLitePath string `koanf:"sqlite_path"`
}

type AuditConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
}

// GovernanceConfig declares the policy applied at session creation.
type GovernanceConfig struct {
	Allowlist        []string           `koanf:"allowlist"`
	Denylist         []string           `koanf:"denylist"`
	RequireAgentSafe bool               `koanf:"require_agent_safe"`
	MaxRisk          int                `koanf:"max_risk"`
	Policies         []PolicyRuleConfig `koanf:"policies"`
	CEL              []CELRuleConfig    `koanf:"cel"`
}

// PolicyRuleConfig matches contracts by class, stability and capability
// glob. Empty matchers match everything.
type PolicyRuleConfig struct {
	ID         string `koanf:"id"`
	Effect     string `koanf:"effect"` // allow, deny, require_approval
	Class      string `koanf:"class"`
	Stability  string `koanf:"stability"`
	Capability string `koanf:"capability"`
	Reason     string `koanf:"reason"`
}

// CELRuleConfig is a CEL expression evaluated against the contract.
// The rule applies Effect when Expr evaluates to true.
type CELRuleConfig struct {
	ID     string `koanf:"id"`
	Effect string `koanf:"effect"`
	Expr   string `koanf:"expr"`
	Reason string `koanf:"reason"`
}

var defaults = map[string]any{
	"log.level":               "info",
	"log.format":              "text",
	"telemetry.exporter":      "stdout",
	"telemetry.otlp_insecure": false,
	"session.max_streams":     16,
	"negotiation.mode":        "strict",
	"negotiation.grammar":     "default",
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads path and then overlays <name>.<profile><ext> from the
// same directory when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads configuration using command line flags:
// --config <path>, --profile|--env <name>, and repeatable --set key=value.
// Values given to --set are parsed as JSON when possible and kept as
// strings otherwise. Unrecognised arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, err := parseCLI(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, opts.sets)
}

type cliOptions struct {
	path    string
	profile string
	sets    map[string]any
}

func parseCLI(args []string) (cliOptions, error) {
	opts := cliOptions{sets: map[string]any{}}
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "-config", "--profile", "-profile", "--env", "-env", "--set", "-set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("flag %s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch strings.TrimLeft(name, "-") {
		case "config":
			opts.path = value
		case "profile", "env":
			opts.profile = value
		case "set":
			key, raw, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return opts, fmt.Errorf("invalid --set %q: expected key=value", value)
			}
			opts.sets[key] = parseSetValue(raw)
		}
	}
	return opts, nil
}

func parseSetValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func load(path, profile string, sets map[string]any) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if p := profilePath(path, profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", p, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return envKey(s)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range sets {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CAPKERNEL_SESSION_MAX_STREAMS to session.max_streams: the first
// underscore separates the section, the rest belong to the field name.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + field
}

func profilePath(path, profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return ""
	}
	ext := filepath.Ext(path)
	candidate := strings.TrimSuffix(path, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// Validate rejects settings the kernel cannot run with.
func (c *Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q: want text or json", c.Log.Format))
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout", "otlp":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.exporter %q: want stdout, otlp or none", c.Telemetry.Exporter))
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		problems = append(problems, "telemetry.otlp_endpoint is required with the otlp exporter")
	}
	if c.Session.MaxStreams < 1 {
		problems = append(problems, fmt.Sprintf("session.max_streams must be positive, got %d", c.Session.MaxStreams))
	}
	switch strings.ToLower(c.Negotiation.Mode) {
	case "strict", "lenient":
	default:
		problems = append(problems, fmt.Sprintf("negotiation.mode %q: want strict or lenient", c.Negotiation.Mode))
	}
	if c.Governance.MaxRisk < 0 || c.Governance.MaxRisk > 100 {
		problems = append(problems, fmt.Sprintf("governance.max_risk must be within 0..100, got %d", c.Governance.MaxRisk))
	}
	for i, p := range c.Governance.Policies {
		if !validEffect(p.Effect) {
			problems = append(problems, fmt.Sprintf("governance.policies[%d].effect %q is unknown", i, p.Effect))
		}
	}
	for i, r := range c.Governance.CEL {
		if !validEffect(r.Effect) {
			problems = append(problems, fmt.Sprintf("governance.cel[%d].effect %q is unknown", i, r.Effect))
		}
		if strings.TrimSpace(r.Expr) == "" {
			problems = append(problems, fmt.Sprintf("governance.cel[%d].expr is empty", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validEffect(effect string) bool {
	switch strings.ToLower(strings.TrimSpace(effect)) {
	case "allow", "deny", "require_approval", "pending":
		return true
	}
	return false
}
