// Package discovery implements Discovery & Reload: enumerating
// TestDescriptors from a user project and invalidating cached source on
// demand.
//
// The externally supplied project is treated as a directory of
// Python-style test_*.py files: any function whose name begins with
// test_ in a file whose name begins with test_. Parsing is done with
// tree-sitter's Python grammar.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// cacheEntry holds the parsed descriptors for one file, keyed by content
// hash so an unchanged file never re-parses.
type cacheEntry struct {
	hash        string
	descriptors []model.TestDescriptor
}

// Scanner discovers TestDescriptors under a configured root.
//
// Concurrency: listTests is safe to call concurrently; calls are
// serialized by scanMu and each one runs its own scan, so a caller that
// waits on an in-flight scan does not reuse that scan's result. reload is
// serialized against discovery via the same single-writer lock (§4.A).
type Scanner struct {
	root        string
	excludes    []string // doublestar glob patterns
	cache       *lru.Cache[string, cacheEntry]
	parser      *sitter.Parser
	generation  int
	scanMu      sync.Mutex
	lastResults []model.TestDescriptor
	lastErr     string
	lastGen     int
}

// NewScanner creates a Scanner rooted at root. excludes are doublestar
// glob patterns (relative to root) skipped during both scanning and
// reload invalidation.
func NewScanner(root string, excludes []string) (*Scanner, error) {
	cache, err := lru.New[string, cacheEntry](512)
	if err != nil {
		return nil, fmt.Errorf("create discovery cache: %w", err)
	}
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Scanner{
		root:     root,
		excludes: excludes,
		cache:    cache,
		parser:   p,
	}, nil
}

// ListTests scans the configured root and returns the current set of
// TestDescriptors, ordered stably by (module, name). Errors from
// individual files are aggregated into errText; files that parsed fine
// still contribute their descriptors ("partial results").
func (s *Scanner) ListTests(ctx context.Context) (descriptors []model.TestDescriptor, errText string) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	var all []model.TestDescriptor
	var failures []string

	walkErr := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr == nil && s.isExcluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if !strings.HasPrefix(base, "test_") || !strings.HasSuffix(base, ".py") {
			return nil
		}

		descs, parseErr := s.scanFile(path, rel)
		if parseErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", rel, parseErr))
			return nil
		}
		all = append(all, descs...)
		return nil
	})
	if walkErr != nil && walkErr != context.Canceled {
		failures = append(failures, walkErr.Error())
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Module != all[j].Module {
			return all[i].Module < all[j].Module
		}
		return all[i].Name < all[j].Name
	})

	if len(failures) > 0 {
		errText = strings.Join(failures, "; ")
	}
	s.lastResults = all
	s.lastErr = errText
	s.lastGen = s.generation
	return all, errText
}

// scanFile parses one test_*.py file, using the per-file cache keyed by
// content hash so an unmodified file is never re-parsed.
func (s *Scanner) scanFile(path, rel string) ([]model.TestDescriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	hash := contentHash(content)

	if entry, ok := s.cache.Get(rel); ok && entry.hash == hash {
		return entry.descriptors, nil
	}

	tree, err := s.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	module := modulePath(rel)
	descs := extractTestFunctions(tree.RootNode(), content, module)

	s.cache.Add(rel, cacheEntry{hash: hash, descriptors: descs})
	return descs, nil
}

// isExcluded reports whether relPath matches any reload-exclusion glob.
func (s *Scanner) isExcluded(relPath string) bool {
	for _, pattern := range s.excludes {
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(relPath)); ok {
			return true
		}
	}
	return false
}

// Reload drops all cached parse results so the next ListTests call
// re-parses every file from disk, and bumps the generation counter so
// callers can tell a reload happened even before the next scan runs.
func (s *Scanner) Reload(_ context.Context) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.cache.Purge()
	s.generation++
	slog.Info("discovery cache invalidated", "generation", s.generation)
	return nil
}

// InvalidatePath drops the cache entry for one file, used by the fsnotify
// watcher so edits are picked up without waiting for a full Reload.
func (s *Scanner) InvalidatePath(relPath string) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.cache.Remove(relPath)
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:8])
}

// modulePath mirrors C360Studio-semspec's extractModuleName: strip the
// extension, convert path separators to dots, collapse __init__.
func modulePath(rel string) string {
	mod := strings.TrimSuffix(rel, ".py")
	mod = strings.ReplaceAll(mod, string(filepath.Separator), ".")
	mod = strings.TrimSuffix(mod, ".__init__")
	return mod
}
