// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package grammar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	kerrors "github.com/jllopis/capkernel/pkg/errors"
)

// ParseJSON loads a grammar from JSON and validates it.
func ParseJSON(data []byte) (*Grammar, error) {
	if len(data) == 0 {
		return nil, kerrors.New(kerrors.CodeInvalidInput, "empty JSON payload", nil)
	}
	var g Grammar
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, decodeError("parse json grammar", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// ParseYAML loads a grammar from YAML and validates it.
func ParseYAML(data []byte) (*Grammar, error) {
	if len(data) == 0 {
		return nil, kerrors.New(kerrors.CodeInvalidInput, "empty YAML payload", nil)
	}
	var g Grammar
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, decodeError("parse yaml grammar", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// decodeError keeps contract errors raised while decoding verbs and tags
// everything else as INVALID_INPUT.
func decodeError(msg string, err error) error {
	if kerrors.CodeOf(err) != kerrors.CodeInternal {
		return err
	}
	return kerrors.New(kerrors.CodeInvalidInput, msg, err)
}

// MarshalJSON serializes a grammar to JSON. Use pretty for indented output.
func MarshalJSON(g *Grammar, pretty bool) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("grammar is nil")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if pretty {
		return json.MarshalIndent(g, "", "  ")
	}
	return json.Marshal(g)
}

// MarshalYAML serializes a grammar to YAML.
func MarshalYAML(g *Grammar) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("grammar is nil")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return yaml.Marshal(g)
}

// LoadGrammar loads a grammar from a YAML or JSON file. Files with other
// extensions are sniffed.
func LoadGrammar(path string) (*Grammar, error) {
	if strings.TrimSpace(path) == "" {
		return nil, kerrors.New(kerrors.CodeInvalidInput, "grammar path is required", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return parseAuto(data)
	}
}

func parseAuto(data []byte) (*Grammar, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if g, err := ParseJSON(data); err == nil {
			return g, nil
		}
	}
	g, err := ParseYAML(data)
	if err == nil {
		return g, nil
	}
	if g, jerr := ParseJSON(data); jerr == nil {
		return g, nil
	}
	return nil, err
}
