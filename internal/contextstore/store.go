// Package contextstore implements the three-scope key/value store shared
// by the sandbox runtime and the builtin steps: a process-wide "mapper"
// scope, a per-flow-instance "flow" scope, and a per-script "script" scope
// keyed by (flow, step index, script path) so it survives hot reloads.
package contextstore

import (
	"encoding/json"
	"sync"
)

// Scope identifies one of the three nested namespaces a step may read or
// write through its Context binding.
type Scope string

const (
	ScopeMapper Scope = "mapper"
	ScopeFlow   Scope = "flow"
	ScopeScript Scope = "script"
)

// KV is the interface a step's Context binding exposes for a single scope:
// list, read, write, remove. Reads return a deep copy so that a step cannot
// mutate state behind the store's back.
type KV interface {
	Keys() []string
	Get(key string) (value any, ok bool)
	Set(key string, value any)
	Delete(key string)
}

// scopeMap is a mutex-guarded map implementing KV for one scope instance.
type scopeMap struct {
	mu   sync.RWMutex
	data map[string]any
}

func newScopeMap() *scopeMap {
	return &scopeMap{data: make(map[string]any)}
}

func (s *scopeMap) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

func (s *scopeMap) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

func (s *scopeMap) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.data, key)
		return
	}
	s.data[key] = deepCopy(value)
}

func (s *scopeMap) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// snapshot returns a deep copy of the whole scope, used by persistence.
func (s *scopeMap) snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = deepCopy(v)
	}
	return out
}

func (s *scopeMap) restore(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any, len(data))
	for k, v := range data {
		s.data[k] = v
	}
}

// deepCopy round-trips through JSON, which is sufficient for the
// JSON-encodable values the store is documented to hold and avoids a
// hand-rolled copier per Go kind.
func deepCopy(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// ScriptKey uniquely identifies one step instance's private script scope.
type ScriptKey struct {
	FlowKey    string
	StepIndex  int
	ScriptPath string
}

// Store is the root of the three-scope hierarchy for one mapper process.
// One Store is created per mapper instance; FlowScope and ScriptScope
// instances are created and torn down as flows are (re)loaded.
type Store struct {
	mapper *scopeMap

	mu      sync.Mutex
	flows   map[string]*scopeMap
	scripts map[ScriptKey]*scopeMap
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		mapper:  newScopeMap(),
		flows:   make(map[string]*scopeMap),
		scripts: make(map[ScriptKey]*scopeMap),
	}
}

// Mapper returns the process-wide KV scope.
func (s *Store) Mapper() KV { return s.mapper }

// Flow returns the KV scope for flowKey, creating it if it does not exist.
func (s *Store) Flow(flowKey string) KV {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.flows[flowKey]
	if !ok {
		sm = newScopeMap()
		s.flows[flowKey] = sm
	}
	return sm
}

// DestroyFlow discards a flow's scope, called on flow teardown or deletion.
func (s *Store) DestroyFlow(flowKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, flowKey)
}

// Script returns the KV scope for a specific step instance, creating it if
// it doesn't exist. Because the key includes the script path, renaming any
// part of it (flow, step index, or script file) yields a fresh scope, per
// the binding invariant in the step contract.
func (s *Store) Script(key ScriptKey) KV {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.scripts[key]
	if !ok {
		sm = newScopeMap()
		s.scripts[key] = sm
	}
	return sm
}

// PruneScripts removes every script scope belonging to flowKey whose key is
// not in keep, dropping the scopes of steps that a flow no longer has.
func (s *Store) PruneScripts(flowKey string, keep map[ScriptKey]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.scripts {
		if k.FlowKey != flowKey {
			continue
		}
		if _, ok := keep[k]; !ok {
			delete(s.scripts, k)
		}
	}
}

// MapperSnapshot returns a deep copy of the entire mapper scope, the only
// scope persisted across process restarts.
func (s *Store) MapperSnapshot() map[string]any {
	return s.mapper.snapshot()
}

// RestoreMapper replaces the mapper scope's contents, used at startup to
// replay persisted retained-message state.
func (s *Store) RestoreMapper(data map[string]any) {
	s.mapper.restore(data)
}
