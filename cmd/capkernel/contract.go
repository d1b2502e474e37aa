// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jllopis/capkernel/pkg/contract"
	"github.com/jllopis/capkernel/pkg/errors"
)

type contractReport struct {
	ID           string `json:"id"`
	Class        string `json:"class"`
	Stability    string `json:"stability"`
	ResourceBand string `json:"resource_band"`
	RiskScore    int    `json:"risk_score"`
	AgentSafe    bool   `json:"agent_safe"`
	LowRisk      bool   `json:"low_risk"`
}

type comparisonReport struct {
	Left              contractReport `json:"left"`
	Right             contractReport `json:"right"`
	StableEnoughFor   bool           `json:"stable_enough_for"`
	Compatible        bool           `json:"compatible"`
	CompatibleReverse bool           `json:"compatible_reverse"`
}

func runContract(global globalFlags, args []string, stdout io.Writer) error {
	fs := newFlagSet("contract")
	if done, err := parseFlags(fs, args, stdout); done || err != nil {
		return err
	}
	args = fs.Args()
	if len(args) == 0 || len(args) > 2 {
		return NewInvalidArgumentError("contract", "usage: capkernel contract <file> [<other>]")
	}
	left, err := loadContract(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		report := reportFor(left)
		if global.JSON {
			return printJSON(stdout, report)
		}
		printContract(stdout, report)
		return nil
	}

	right, err := loadContract(args[1])
	if err != nil {
		return err
	}
	cmp := comparisonReport{
		Left:              reportFor(left),
		Right:             reportFor(right),
		StableEnoughFor:   contract.IsStableEnoughFor(left, right),
		Compatible:        contract.Compatible(left, right),
		CompatibleReverse: contract.Compatible(right, left),
	}
	if global.JSON {
		return printJSON(stdout, cmp)
	}
	printContract(stdout, cmp.Left)
	fmt.Fprintln(stdout)
	printContract(stdout, cmp.Right)
	fmt.Fprintln(stdout)
	w := newTabWriter(stdout)
	writeRow(w, "STABLE_ENOUGH_FOR", strconv.FormatBool(cmp.StableEnoughFor))
	writeRow(w, "COMPATIBLE", strconv.FormatBool(cmp.Compatible))
	writeRow(w, "COMPATIBLE_REVERSE", strconv.FormatBool(cmp.CompatibleReverse))
	return w.Flush()
}

func loadContract(path string) (*contract.Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "read contract", err).WithContext("path", path)
	}
	var c *contract.Contract
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		c, err = contract.ParseJSON(data)
	default:
		c, err = contract.ParseYAML(data)
	}
	if err != nil {
		return nil, errors.AsKernelError(err).WithContext("path", path)
	}
	return c, nil
}

func reportFor(c *contract.Contract) contractReport {
	return contractReport{
		ID:           c.ID(),
		Class:        c.Class().String(),
		Stability:    c.Stability().String(),
		ResourceBand: c.ResourceBand().String(),
		RiskScore:    c.RiskScore(),
		AgentSafe:    c.IsAgentSafe(),
		LowRisk:      c.RiskScore() < contract.LowRiskThreshold,
	}
}

func printContract(stdout io.Writer, r contractReport) {
	w := newTabWriter(stdout)
	writeRow(w, "ID", r.ID)
	writeRow(w, "CLASS", r.Class)
	writeRow(w, "STABILITY", r.Stability)
	writeRow(w, "RESOURCE_BAND", r.ResourceBand)
	writeRow(w, "RISK_SCORE", strconv.Itoa(r.RiskScore))
	writeRow(w, "AGENT_SAFE", strconv.FormatBool(r.AgentSafe))
	writeRow(w, "LOW_RISK", strconv.FormatBool(r.LowRisk))
	_ = w.Flush()
}
