package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// reloadDelay coalesces bursts of file events (editors write, rename and
// chmod in quick succession) into one reload.
const reloadDelay = 500 * time.Millisecond

// policyDecoder turns the bytes of one file into a policy.
type policyDecoder func(path string, data []byte) (*Policy, error)

// decoders maps file extensions to the decoder for that format. Rego files
// carry their metadata in a header comment; JSON and YAML files are full
// policy definitions with the Rego source inline.
var decoders = map[string]policyDecoder{
	".rego": decodeRego,
	".json": func(path string, data []byte) (*Policy, error) {
		return decodeDefinition(path, data, json.Unmarshal)
	},
	".yaml": func(path string, data []byte) (*Policy, error) {
		return decodeDefinition(path, data, yaml.Unmarshal)
	},
	".yml": func(path string, data []byte) (*Policy, error) {
		return decodeDefinition(path, data, yaml.Unmarshal)
	},
}

func isPolicyFile(path string) bool {
	_, ok := decoders[filepath.Ext(path)]
	return ok
}

// Loader reads policies from files and directories and can watch them for
// changes. Decoded files are cached by path until they change.
type Loader struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Policy

	watcher *fsnotify.Watcher
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads every policy under paths. A path that does not exist
// or a file named directly that does not decode is an error; broken files
// found while walking a directory are logged and skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var loaded []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}

		if info.IsDir() {
			policies, err := l.loadFromDirectory(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
			}
			loaded = append(loaded, policies...)
			continue
		}

		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		loaded = append(loaded, *p)
	}

	l.logger.Info().Int("total", len(loaded)).Int("sources", len(paths)).Msg("Policies loaded")
	return loaded, nil
}

func (l *Loader) loadFromDirectory(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}
		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return policies, nil
}

func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	l.mu.RLock()
	cached, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	decode, ok := decoders[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := decode(path, data)
	if err != nil {
		return nil, err
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["source"] = path

	l.mu.Lock()
	l.cache[path] = p
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy loaded")
	return p, nil
}

// decodeRego builds a policy from a .rego file named after the file. The
// leading comment block is the description, except for directive lines:
//
//	# Pages must declare a path.
//	# severity: error
//	# tags: pages, paths
func decodeRego(path string, data []byte) (*Policy, error) {
	h := parseHeader(string(data))
	now := time.Now()

	p := &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: h.description,
		Rego:        string(data),
		Severity:    h.severity,
		Enabled:     true,
		Tags:        h.tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

func decodeDefinition(path string, data []byte, unmarshal func([]byte, interface{}) error) (*Policy, error) {
	var p Policy
	if err := unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("policy %s has no name", path)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return &p, nil
}

type regoHeader struct {
	description string
	severity    Severity
	tags        []string
}

// parseHeader reads the comment block at the top of a Rego file. It stops at
// the first non-comment, non-blank line after a comment was seen.
func parseHeader(content string) regoHeader {
	var (
		h     regoHeader
		desc  []string
		begun bool
	)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		comment, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if line != "" && begun {
				break
			}
			continue
		}
		begun = true
		comment = strings.TrimSpace(comment)

		if v, ok := strings.CutPrefix(comment, "severity:"); ok {
			h.severity = Severity(strings.TrimSpace(v))
			continue
		}
		if v, ok := strings.CutPrefix(comment, "tags:"); ok {
			for _, tag := range strings.Split(v, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					h.tags = append(h.tags, tag)
				}
			}
			continue
		}
		if comment != "" && !strings.HasPrefix(comment, "package") {
			desc = append(desc, comment)
		}
	}
	h.description = strings.Join(desc, " ")
	return h
}

// LoadBundle reads a JSON or YAML policy bundle.
func (l *Loader) LoadBundle(_ context.Context, path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	unmarshal := json.Unmarshal
	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		unmarshal = yaml.Unmarshal
	}
	var bundle PolicyBundle
	if err := unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}

	l.logger.Info().
		Str("bundle", bundle.Name).
		Str("version", bundle.Version).
		Int("policies", len(bundle.Policies)).
		Msg("Policy bundle loaded")
	return &bundle, nil
}

// Watch reloads the policies under paths after they change and hands them
// to reload. It returns once the watches are registered; changes are
// processed until ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := l.addWatches(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Cannot watch policy path")
		}
	}
	go l.watchLoop(ctx, paths, reload)

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

// addWatches watches a file, or a directory and every directory below it.
func (l *Loader) addWatches(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return l.watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return l.watcher.Add(p)
	})
}

func (l *Loader) watchLoop(ctx context.Context, paths []string, reload func([]Policy) error) {
	defer l.watcher.Close()

	// A stopped timer; each relevant event pushes the reload back.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			l.forget(event.Name)
			timer.Reset(reloadDelay)

		case <-timer.C:
			if err := l.reload(ctx, paths, reload); err != nil {
				l.logger.Error().Err(err).Msg("Failed to reload policies")
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}

func (l *Loader) forget(path string) {
	l.mu.Lock()
	delete(l.cache, path)
	l.mu.Unlock()
}

// StopWatching closes the watcher started by Watch.
func (l *Loader) StopWatching() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// ClearCache drops every cached policy.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*Policy)
	l.mu.Unlock()
	l.logger.Debug().Msg("Policy cache cleared")
}
