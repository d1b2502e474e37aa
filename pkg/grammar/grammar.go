// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package grammar models versioned capability grammars (nouns owning verbs,
// each verb owning one capability contract), computes deltas between two
// grammars and stores grammar snapshots by version.
package grammar

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"

	"github.com/jllopis/capkernel/pkg/contract"
	kerrors "github.com/jllopis/capkernel/pkg/errors"
)

// PathSeparator joins a noun and a verb into a path.
const PathSeparator = "."

// Grammar is a named, versioned set of nouns.
type Grammar struct {
	Name        string           `json:"name" yaml:"name"`
	Version     string           `json:"version" yaml:"version"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Nouns       map[string]*Noun `json:"nouns" yaml:"nouns"`
}

// Noun groups the verbs acting on one kind of resource.
type Noun struct {
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Verbs       map[string]*Verb `json:"verbs" yaml:"verbs"`
}

// Verb is one capability, bound to exactly one contract.
type Verb struct {
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Contract    *contract.Contract `json:"contract" yaml:"contract"`
}

// Path returns the path of verb under noun.
func Path(noun, verb string) string {
	return noun + PathSeparator + verb
}

// SplitPath splits a path into noun and verb.
func SplitPath(path string) (noun, verb string, ok bool) {
	return strings.Cut(path, PathSeparator)
}

// Validate checks the grammar is well-formed. Contracts without an ID take
// their path as ID.
func (g *Grammar) Validate() error {
	if g == nil {
		return kerrors.New(kerrors.CodeInvalidInput, "grammar is nil", nil)
	}
	if strings.TrimSpace(g.Name) == "" {
		return invalidGrammar(g, "", "grammar name is required")
	}
	if _, err := semver.NewVersion(g.Version); err != nil {
		return invalidGrammar(g, "", fmt.Sprintf("invalid version %q: %v", g.Version, err))
	}
	for nounName, noun := range g.Nouns {
		if err := checkIdent(nounName); err != nil {
			return invalidGrammar(g, nounName, "noun "+err.Error())
		}
		if noun == nil {
			return invalidGrammar(g, nounName, "noun is empty")
		}
		for verbName, verb := range noun.Verbs {
			path := Path(nounName, verbName)
			if err := checkIdent(verbName); err != nil {
				return invalidGrammar(g, path, "verb "+err.Error())
			}
			if verb == nil || verb.Contract == nil {
				return invalidGrammar(g, path, "verb has no contract")
			}
			if err := contract.Validate(verb.Contract); err != nil {
				return kerrors.AsKernelError(err).
					WithContext("grammar", g.Name).
					WithContext("version", g.Version).
					WithContext("path", path)
			}
			if verb.Contract.ID() == "" {
				c, err := verb.Contract.ToBuilder().ID(path).Build()
				if err != nil {
					return err
				}
				verb.Contract = c
			}
		}
	}
	return nil
}

func checkIdent(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if strings.Contains(name, PathSeparator) {
		return fmt.Errorf("%q must not contain %q", name, PathSeparator)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%q must not contain whitespace", name)
	}
	return nil
}

func invalidGrammar(g *Grammar, path, msg string) *kerrors.KernelError {
	err := kerrors.New(kerrors.CodeInvalidInput, msg, nil).
		WithContext("grammar", g.Name).
		WithContext("version", g.Version)
	if path != "" {
		err = err.WithContext("path", path)
	}
	return err
}

// SemVer parses the grammar version.
func (g *Grammar) SemVer() (*semver.Version, error) {
	return semver.NewVersion(g.Version)
}

// Paths returns every noun.verb path in lexical order.
func (g *Grammar) Paths() []string {
	if g == nil {
		return nil
	}
	var out []string
	for nounName, noun := range g.Nouns {
		if noun == nil {
			continue
		}
		for verbName := range noun.Verbs {
			out = append(out, Path(nounName, verbName))
		}
	}
	sort.Strings(out)
	return out
}

// Lookup returns the verb at path.
func (g *Grammar) Lookup(path string) (*Verb, bool) {
	if g == nil {
		return nil, false
	}
	nounName, verbName, ok := SplitPath(path)
	if !ok {
		return nil, false
	}
	noun, ok := g.Nouns[nounName]
	if !ok || noun == nil {
		return nil, false
	}
	verb, ok := noun.Verbs[verbName]
	return verb, ok && verb != nil
}

// Add registers c under noun.verb, creating the noun when needed.
func (g *Grammar) Add(noun, verb string, c *contract.Contract) {
	if g.Nouns == nil {
		g.Nouns = make(map[string]*Noun)
	}
	n, ok := g.Nouns[noun]
	if !ok || n == nil {
		n = &Noun{}
		g.Nouns[noun] = n
	}
	if n.Verbs == nil {
		n.Verbs = make(map[string]*Verb)
	}
	n.Verbs[verb] = &Verb{Contract: c}
}

// Clone returns a deep copy of the noun and verb tables. Contracts are
// immutable and shared.
func (g *Grammar) Clone() *Grammar {
	if g == nil {
		return nil
	}
	out := &Grammar{Name: g.Name, Version: g.Version, Description: g.Description}
	if g.Nouns != nil {
		out.Nouns = make(map[string]*Noun, len(g.Nouns))
	}
	for name, noun := range g.Nouns {
		if noun == nil {
			out.Nouns[name] = nil
			continue
		}
		n := &Noun{Description: noun.Description}
		if noun.Verbs != nil {
			n.Verbs = make(map[string]*Verb, len(noun.Verbs))
		}
		for vn, verb := range noun.Verbs {
			if verb == nil {
				n.Verbs[vn] = nil
				continue
			}
			v := *verb
			n.Verbs[vn] = &v
		}
		out.Nouns[name] = n
	}
	return out
}
