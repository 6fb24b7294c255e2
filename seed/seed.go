// Package seed registers static components declared in YAML files. Seeded
// components hold non-expiring leases and stay registered until their file
// entry goes away.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/discoverer/description"
	"github.com/c360studio/discoverer/registry"
)

// DefaultPattern matches every YAML file below the seed directory.
const DefaultPattern = "**/*.{yaml,yml}"

// Config configures seed loading.
type Config struct {
	// Dir is the directory holding seed files. Empty disables seeding.
	Dir string `json:"dir" yaml:"dir" toml:"dir"`
	// Pattern is a doublestar glob relative to Dir.
	Pattern string `json:"pattern" yaml:"pattern" toml:"pattern"`
	// Watch re-syncs the seeds when files under Dir change.
	Watch bool `json:"watch" yaml:"watch" toml:"watch"`
	// Debounce collects file changes before re-syncing.
	Debounce time.Duration `json:"debounce" yaml:"debounce" toml:"debounce"`
}

// DefaultConfig returns the default seed settings.
func DefaultConfig() Config {
	return Config{
		Pattern:  DefaultPattern,
		Watch:    true,
		Debounce: 500 * time.Millisecond,
	}
}

// File is the layout of one seed file.
type File struct {
	Components []*description.ComponentDescription `yaml:"components"`
}

// Registrar is the part of the mediator the syncer drives.
type Registrar interface {
	Register(ctx context.Context, d *description.ComponentDescription, lease time.Duration) (int, error)
	Unregister(ctx context.Context, ref registry.Ref) error
}

// Load reads every seed file under dir matching pattern. When two files
// declare the same id the file sorting last wins. Unreadable files and
// invalid entries are reported in the joined error; the rest still load.
func Load(dir, pattern string) (map[string]*description.ComponentDescription, error) {
	snap, err := load(dir, pattern)
	if snap == nil {
		return nil, err
	}
	return snap.components, err
}

// snapshot is the result of one pass over the seed files.
type snapshot struct {
	components map[string]*description.ComponentDescription
	// sources maps each loaded id to the file declaring it.
	sources map[string]string
	// failed holds the files that could not be read or parsed.
	failed map[string]bool
	// invalid holds the ids of entries that failed validation.
	invalid map[string]bool
}

func load(dir, pattern string) (*snapshot, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid seed pattern %q", pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}
	sort.Strings(matches)

	snap := &snapshot{
		components: make(map[string]*description.ComponentDescription),
		sources:    make(map[string]string),
		failed:     make(map[string]bool),
		invalid:    make(map[string]bool),
	}
	var errs []error
	for _, rel := range matches {
		components, err := readFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			snap.failed[rel] = true
			errs = append(errs, err)
			continue
		}
		for i, d := range components {
			if d == nil {
				continue
			}
			d.Normalize()
			if err := d.Validate(); err != nil {
				if d.ID != "" {
					snap.invalid[d.ID] = true
				}
				errs = append(errs, fmt.Errorf("%s: component %d: %w", rel, i, err))
				continue
			}
			snap.components[d.ID] = d
			snap.sources[d.ID] = rel
		}
	}
	return snap, errors.Join(errs...)
}

// keeps reports whether a component seeded from source is held back from
// withdrawal because its declaration could not be loaded this round.
func (s *snapshot) keeps(id, source string) bool {
	return s.failed[source] || s.invalid[id]
}

func readFile(path string) ([]*description.ComponentDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return f.Components, nil
}

// Syncer keeps the registry in line with the seed files.
type Syncer struct {
	config    Config
	registrar Registrar
	logger    *slog.Logger

	mu      sync.Mutex
	applied map[string]*description.ComponentDescription
	sources map[string]string
}

// NewSyncer creates a syncer. A nil logger uses slog.Default().
func NewSyncer(cfg Config, registrar Registrar, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Pattern == "" {
		cfg.Pattern = defaults.Pattern
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	return &Syncer{
		config:    cfg,
		registrar: registrar,
		logger:    logger,
		applied:   make(map[string]*description.ComponentDescription),
		sources:   make(map[string]string),
	}
}

// Sync loads the seed files, registers new or changed components and
// unregisters seeded components whose entry was removed. Components whose
// file cannot be read or parsed, or whose entry became invalid, stay
// registered as last applied. Load errors are returned after the valid
// entries have been applied.
func (s *Syncer) Sync(ctx context.Context) error {
	snap, loadErr := load(s.config.Dir, s.config.Pattern)
	if snap == nil {
		return loadErr
	}
	loaded := snap.components

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if loadErr != nil {
		errs = append(errs, loadErr)
	}

	for _, id := range sortedIDs(s.applied) {
		if _, ok := loaded[id]; ok {
			continue
		}
		if snap.keeps(id, s.sources[id]) {
			s.logger.Warn("Seed entry failed to load, keeping last applied component",
				"component_id", id,
				"file", s.sources[id])
			continue
		}
		if err := s.registrar.Unregister(ctx, registry.ByID(id)); err != nil {
			s.logger.Debug("Seeded component already gone", "component_id", id, "error", err)
		}
		delete(s.applied, id)
		delete(s.sources, id)
		s.logger.Info("Seeded component withdrawn", "component_id", id)
	}

	registered := 0
	for _, id := range sortedIDs(loaded) {
		d := loaded[id]
		if prev, ok := s.applied[id]; ok && prev.DeepEqual(d) {
			continue
		}
		if _, err := s.registrar.Register(ctx, d, 0); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", id, err))
			continue
		}
		s.applied[id] = d
		s.sources[id] = snap.sources[id]
		registered++
	}

	s.logger.Info("Seed files synced",
		"dir", s.config.Dir,
		"components", len(s.applied),
		"registered", registered)
	return errors.Join(errs...)
}

// Applied returns the ids of the currently seeded components.
func (s *Syncer) Applied() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedIDs(s.applied)
}

// Matches reports whether a path below Dir is a seed file.
func (s *Syncer) Matches(path string) bool {
	rel, err := filepath.Rel(s.config.Dir, path)
	if err != nil {
		return false
	}
	ok, err := doublestar.PathMatch(filepath.FromSlash(s.config.Pattern), rel)
	return err == nil && ok
}

func sortedIDs(m map[string]*description.ComponentDescription) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// walkDirs lists dir and every directory below it, skipping hidden ones.
func walkDirs(dir string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if base := entry.Name(); path != dir && len(base) > 0 && base[0] == '.' {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}
