// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package grammar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	kerrors "github.com/jllopis/capkernel/pkg/errors"
)

// Catalog stores grammar snapshots by name and version. Versions are
// compared semantically, so "1.0" and "1.0.0" name the same snapshot.
// Implementations must be safe for concurrent use.
type Catalog interface {
	Put(ctx context.Context, g *Grammar) error
	Get(ctx context.Context, name, version string) (*Grammar, error)
	// Versions lists the stored versions of name in ascending order.
	Versions(ctx context.Context, name string) ([]string, error)
}

// Fingerprint returns the hex SHA-256 of the grammar's canonical JSON.
// Two grammars with equal fingerprints have identical nouns, verbs and
// contracts.
func Fingerprint(g *Grammar) (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func versionKey(version string) (string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", kerrors.Newf(kerrors.CodeInvalidInput, "invalid version %q", version).
			WithContext("version", version)
	}
	return v.String(), nil
}

func snapshotNotFound(name, version string) *kerrors.KernelError {
	return kerrors.Newf(kerrors.CodeNotFound, "grammar %s@%s not found", name, version).
		WithContext("grammar", name).
		WithContext("version", version)
}

// sortVersions orders versions ascending by semver. Unparseable entries
// sort last in lexical order.
func sortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, ei := semver.NewVersion(versions[i])
		vj, ej := semver.NewVersion(versions[j])
		switch {
		case ei == nil && ej == nil:
			return vi.LessThan(vj)
		case ei == nil:
			return true
		case ej == nil:
			return false
		default:
			return versions[i] < versions[j]
		}
	})
}

// MemoryCatalog keeps snapshots in memory.
type MemoryCatalog struct {
	mu        sync.RWMutex
	snapshots map[string]map[string]*Grammar
}

// NewMemoryCatalog returns an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{snapshots: make(map[string]map[string]*Grammar)}
}

// Put validates g and stores a copy, replacing any snapshot of the same
// version.
func (c *MemoryCatalog) Put(_ context.Context, g *Grammar) error {
	if err := g.Validate(); err != nil {
		return err
	}
	key, err := versionKey(g.Version)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byVersion, ok := c.snapshots[g.Name]
	if !ok {
		byVersion = make(map[string]*Grammar)
		c.snapshots[g.Name] = byVersion
	}
	byVersion[key] = g.Clone()
	return nil
}

// Get returns a copy of the snapshot, or NOT_FOUND.
func (c *MemoryCatalog) Get(_ context.Context, name, version string) (*Grammar, error) {
	key, err := versionKey(version)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.snapshots[name][key]
	if !ok {
		return nil, snapshotNotFound(name, version)
	}
	return g.Clone(), nil
}

// Versions lists the stored versions of name.
func (c *MemoryCatalog) Versions(_ context.Context, name string) ([]string, error) {
	c.mu.RLock()
	out := make([]string, 0, len(c.snapshots[name]))
	for _, g := range c.snapshots[name] {
		out = append(out, g.Version)
	}
	c.mu.RUnlock()
	sortVersions(out)
	return out, nil
}

// LoadDir loads every .yaml, .yml and .json file under dir into catalog
// and returns how many grammars were stored.
func LoadDir(ctx context.Context, catalog Catalog, dir string) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, kerrors.New(kerrors.CodeInvalidInput, "catalog directory is required", nil)
	}
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
		default:
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		g, err := LoadGrammar(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := catalog.Put(ctx, g); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}
		count++
		return nil
	})
	return count, err
}
