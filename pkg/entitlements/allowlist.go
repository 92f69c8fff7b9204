package entitlements

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// AllowList is the administrator override: a set of email addresses that
// bypass quotas. Entries come from two sources, a static list fixed at
// construction (ADMIN_EMAILS) and an optional YAML file that can be edited
// while the server runs.
//
//	admins:
//	  - ops@vibecodingbasics.com
type AllowList struct {
	mu     sync.RWMutex
	static map[string]struct{}
	file   map[string]struct{}
}

type allowListFile struct {
	Admins []string `yaml:"admins"`
}

// NewAllowList creates an allow-list seeded with emails
func NewAllowList(emails ...string) *AllowList {
	a := &AllowList{
		static: make(map[string]struct{}, len(emails)),
		file:   make(map[string]struct{}),
	}
	for _, e := range emails {
		if key := normalizeEmail(e); key != "" {
			a.static[key] = struct{}{}
		}
	}
	return a
}

// IsPrivileged reports whether email is allow-listed. Case-insensitive.
func (a *AllowList) IsPrivileged(email string) bool {
	key := normalizeEmail(email)
	if key == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.static[key]; ok {
		return true
	}
	_, ok := a.file[key]
	return ok
}

// Len returns the number of distinct entries
func (a *AllowList) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := len(a.static)
	for k := range a.file {
		if _, dup := a.static[k]; !dup {
			n++
		}
	}
	return n
}

// LoadFile replaces the file-sourced entries with the contents of path
func (a *AllowList) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read allow-list file: %w", err)
	}

	var parsed allowListFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse allow-list file: %w", err)
	}

	entries := make(map[string]struct{}, len(parsed.Admins))
	for _, e := range parsed.Admins {
		if key := normalizeEmail(e); key != "" {
			entries[key] = struct{}{}
		}
	}

	a.mu.Lock()
	a.file = entries
	a.mu.Unlock()
	return nil
}

// Watch reloads path whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file atomically are
// picked up. A failed reload keeps the previous entries.
func (a *AllowList) Watch(ctx context.Context, path string, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	log := logger.WithField("file", path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := a.LoadFile(path); err != nil {
					log.WithError(err).Warn("allow-list reload failed, keeping previous entries")
					continue
				}
				log.WithField("entries", a.Len()).Info("allow-list reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("allow-list watcher error")
			}
		}
	}()

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
