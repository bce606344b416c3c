package backup

import (
	"path/filepath"
	"sort"
	"sync"
)

// InFlight tracks archives currently being uploaded or restored so that
// retention never deletes them mid-operation.
type InFlight struct {
	mu    sync.Mutex
	names map[string]int
}

// NewInFlight creates an empty registry
func NewInFlight() *InFlight {
	return &InFlight{names: make(map[string]int)}
}

// Acquire marks name as in use until the returned release func is called
func (f *InFlight) Acquire(name string) func() {
	name = filepath.Base(name)

	f.mu.Lock()
	f.names[name]++
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.names[name] <= 1 {
				delete(f.names, name)
				return
			}
			f.names[name]--
		})
	}
}

// Contains reports whether name is in use
func (f *InFlight) Contains(name string) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[filepath.Base(name)] > 0
}

// Names returns the archives in use, sorted
func (f *InFlight) Names() []string {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.names))
	for name := range f.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
