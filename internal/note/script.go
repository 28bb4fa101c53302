// script.go - Note script references and the well-known script registry.
//
// Scripts are opaque here: only the root digest takes part in commitments.

package note

import (
	"fmt"
	"sync"
)

// Well-known script names.
const (
	ScriptP2ID  = "P2ID"
	ScriptP2IDE = "P2IDE"
	ScriptSWAP  = "SWAP"
	ScriptMINT  = "MINT"
	ScriptBURN  = "BURN"
)

const wellKnownNamespace = "noteflow::note_scripts::"

// Script is a named reference to compiled note or transaction code.
type Script struct {
	Name string `json:"name"`
	Root Word   `json:"root"`
}

// ScriptFromSource derives a script reference from its source text.
func ScriptFromSource(name string, source []byte) Script {
	return Script{Name: name, Root: hashElements(packBytes(source)...)}
}

func wellKnownScript(name string) Script {
	return Script{Name: name, Root: hashElements(packBytes([]byte(wellKnownNamespace + name))...)}
}

// ScriptRegistry resolves scripts by symbolic name, and names back from root digests.
type ScriptRegistry interface {
	Lookup(name string) (Script, error)
	ByRoot(root Word) (Script, bool)
}

// Registry is an in-memory ScriptRegistry.
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]Script
}

// NewRegistry returns a registry holding scripts.
func NewRegistry(scripts ...Script) *Registry {
	r := &Registry{scripts: make(map[string]Script, len(scripts))}
	for _, s := range scripts {
		r.scripts[s.Name] = s
	}
	return r
}

var (
	wellKnownOnce sync.Once
	wellKnown     *Registry
)

// WellKnownScripts returns the shared registry of standard note scripts.
func WellKnownScripts() *Registry {
	wellKnownOnce.Do(func() {
		wellKnown = NewRegistry(
			wellKnownScript(ScriptP2ID),
			wellKnownScript(ScriptP2IDE),
			wellKnownScript(ScriptSWAP),
			wellKnownScript(ScriptMINT),
			wellKnownScript(ScriptBURN),
		)
	})
	return wellKnown
}

// Register adds or replaces a script.
func (r *Registry) Register(s Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[s.Name] = s
}

// Lookup returns the script registered under name.
func (r *Registry) Lookup(name string) (Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[name]
	if !ok {
		return Script{}, fmt.Errorf("%w: %s", ErrUnknownScript, name)
	}
	return s, nil
}

// ByRoot finds a registered script by root digest.
func (r *Registry) ByRoot(root Word) (Script, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.scripts {
		if s.Root == root {
			return s, true
		}
	}
	return Script{}, false
}
