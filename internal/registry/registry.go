// Package registry holds the allow-list of executable tools the gateway is
// willing to run, and resolves entries against the host at lookup time.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
)

// Entry describes one allow-listed tool as resolved on the host.
type Entry struct {
	Name      string `json:"name" yaml:"name"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Available bool   `json:"available" yaml:"available"`
}

// Registry is the fixed allow-list. The set of names is immutable after
// construction; availability and path are recomputed on each lookup so a
// tool installed after startup becomes usable without a restart.
type Registry struct {
	mu    sync.RWMutex
	names map[string]struct{}

	logger *slog.Logger
}

// New builds a registry over the given allow-list. Duplicate names are
// collapsed.
func New(names []string, logger *slog.Logger) *Registry {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return &Registry{
		names:  set,
		logger: logger,
	}
}

// Allowed reports whether name is on the allow-list. It performs no
// filesystem lookup.
func (r *Registry) Allowed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Resolve checks name against the allow-list and locates its executable on
// PATH. A nil error means the tool exists, is executable, and may be run.
func (r *Registry) Resolve(name string) (*Entry, error) {
	if !r.Allowed(name) {
		return nil, fmt.Errorf("tool %q is not on the allow-list", name)
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("tool %q is allowed but not installed: %w", name, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("tool %q resolved to %s but cannot be inspected: %w", name, path, err)
	}
	if info.Mode()&0111 == 0 {
		return nil, fmt.Errorf("tool %q resolved to %s but it is not executable", name, path)
	}

	return &Entry{Name: name, Path: path, Available: true}, nil
}

// Names returns the allow-list sorted, regardless of availability.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.names))
	for n := range r.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the allow-list size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// List resolves every allow-listed tool against the host. Unavailable
// tools are included with Available set to false.
func (r *Registry) List() []Entry {
	entries := make([]Entry, 0, r.Len())
	for _, name := range r.Names() {
		e, err := r.Resolve(name)
		if err != nil {
			entries = append(entries, Entry{Name: name})
			continue
		}
		entries = append(entries, *e)
	}
	return entries
}
