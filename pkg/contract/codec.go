// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package contract

import (
	"encoding/json"
	"fmt"

	kerrors "github.com/jllopis/capkernel/pkg/errors"
	"gopkg.in/yaml.v3"
)

// wireContract is the serialized form shared by JSON and YAML.
// risk_score is written for readers and ignored on decode.
type wireContract struct {
	ID           string    `json:"id,omitempty" yaml:"id,omitempty"`
	Class        string    `json:"class" yaml:"class"`
	Stability    string    `json:"stability" yaml:"stability"`
	ResourceBand string    `json:"resource_band" yaml:"resource_band"`
	RiskScore    *int      `json:"risk_score,omitempty" yaml:"risk_score,omitempty"`
	AgentSafe    bool      `json:"agent_safe" yaml:"agent_safe"`
	Replaces     []string  `json:"replaces,omitempty" yaml:"replaces,omitempty"`
	Metadata     *Metadata `json:"metadata" yaml:"metadata"`
}

func (c *Contract) toWire() (*wireContract, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	score := RiskScore(c)
	return &wireContract{
		ID:           c.id,
		Class:        c.class.String(),
		Stability:    c.stability.String(),
		ResourceBand: c.band.String(),
		RiskScore:    &score,
		AgentSafe:    c.agentSafe,
		Replaces:     c.Replaces(),
		Metadata:     c.Metadata(),
	}, nil
}

func (w *wireContract) build() (*Contract, error) {
	b := New().ID(w.ID).AgentSafe(w.AgentSafe).Replaces(w.Replaces...).withMetadata(w.Metadata)
	if class, err := ParseClass(w.Class); err != nil {
		b.errs = append(b.errs, err.Error())
	} else {
		b.Class(class)
	}
	if s, err := ParseStability(w.Stability); err != nil {
		b.errs = append(b.errs, err.Error())
	} else {
		b.Stability(s)
	}
	if band, err := ParseResourceBand(w.ResourceBand); err != nil {
		b.errs = append(b.errs, err.Error())
	} else {
		b.ResourceBand(band)
	}
	return b.Build()
}

// MarshalJSON encodes the contract, including its derived risk score.
func (c *Contract) MarshalJSON() ([]byte, error) {
	w, err := c.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes and validates a contract. A risk_score present in the
// input is ignored; the score is always derived.
func (c *Contract) UnmarshalJSON(data []byte) error {
	var w wireContract
	if err := json.Unmarshal(data, &w); err != nil {
		return kerrors.New(kerrors.CodeInvalidContract, "decode contract", err)
	}
	built, err := w.build()
	if err != nil {
		return err
	}
	*c = *built
	return nil
}

// MarshalYAML encodes the contract with the same field names as JSON.
func (c *Contract) MarshalYAML() (any, error) {
	return c.toWire()
}

// UnmarshalYAML decodes and validates a contract from a YAML node.
func (c *Contract) UnmarshalYAML(node *yaml.Node) error {
	var w wireContract
	if err := node.Decode(&w); err != nil {
		return kerrors.New(kerrors.CodeInvalidContract, fmt.Sprintf("decode contract at line %d", node.Line), err)
	}
	built, err := w.build()
	if err != nil {
		return err
	}
	*c = *built
	return nil
}

// ParseJSON decodes a single contract document.
func ParseJSON(data []byte) (*Contract, error) {
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, asInvalid(err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseYAML decodes a single contract document.
func ParseYAML(data []byte) (*Contract, error) {
	var c Contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, asInvalid(err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// asInvalid keeps taxonomy errors raised by the builder and tags syntax
// errors from the decoders as INVALID_CONTRACT.
func asInvalid(err error) error {
	if kerrors.CodeOf(err) != kerrors.CodeInternal {
		return err
	}
	return kerrors.New(kerrors.CodeInvalidContract, "decode contract", err)
}
