package pipelinekit

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// registryKey identifies one registered pipeline by the Go type it
// dispatches for plus an optional name, letting the same command type be
// served by more than one named pipeline (e.g. "default" vs "priority").
type registryKey struct {
	typeID reflect.Type
	name   string
}

func (k registryKey) String() string {
	return fmt.Sprintf("%s|%s", k.typeID, k.name)
}

// RegistryEntry is the metadata PipelineRegistry tracks alongside each
// registered pipeline.
type RegistryEntry struct {
	Name          string
	CommandTypeID reflect.Type
	CreatedAt     time.Time
}

// PipelineRegistry maps a command type (and optional name) to the
// Pipeline that serves it, so a dispatcher can route an incoming command
// value without the caller holding a direct reference to the pipeline.
//
// Grounded on the teacher's MCP registry cache-key scheme
// ("kind:qualifier:owner"-shaped composite keys under one mutex); here the
// composite key is (reflect.Type, name) instead of a formatted string, and
// entries never expire — registration is a startup-time activity, not a
// request-scoped cache.
type PipelineRegistry struct {
	mu      sync.RWMutex
	entries map[registryKey]ErasedPipeline
	meta    map[registryKey]RegistryEntry
	byType  map[reflect.Type][]registryKey // secondary index: all names registered for a type
}

// NewPipelineRegistry creates an empty registry.
func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{
		entries: make(map[registryKey]ErasedPipeline),
		meta:    make(map[registryKey]RegistryEntry),
		byType:  make(map[reflect.Type][]registryKey),
	}
}

// Register associates pipeline with the (C, name) pair. Registering the
// same (type, name) pair twice replaces the prior entry.
func Register[C, R any](reg *PipelineRegistry, name string, pipeline *Pipeline[C, R]) {
	typeID := reflect.TypeFor[C]()
	key := registryKey{typeID: typeID, name: name}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.entries[key]; !exists {
		reg.byType[typeID] = append(reg.byType[typeID], key)
	}
	reg.entries[key] = pipeline
	reg.meta[key] = RegistryEntry{Name: name, CommandTypeID: typeID, CreatedAt: time.Now()}
}

// Lookup returns the pipeline registered for C under name, type-asserted
// back to its concrete (C, R) form. ok is false if nothing is registered,
// or if the registered entry's R does not match the caller's expectation.
func Lookup[C, R any](reg *PipelineRegistry, name string) (pipeline *Pipeline[C, R], ok bool) {
	typeID := reflect.TypeFor[C]()
	key := registryKey{typeID: typeID, name: name}

	reg.mu.RLock()
	entry, found := reg.entries[key]
	reg.mu.RUnlock()
	if !found {
		return nil, false
	}
	p, ok := entry.(*Pipeline[C, R])
	return p, ok
}

// Dispatch routes cmd to the pipeline registered for its dynamic type
// under name, using the type-erased path — the mechanism a generic
// top-level dispatcher uses when it cannot know C/R at compile time.
func (reg *PipelineRegistry) Dispatch(ctx context.Context, cmd any, cc *CommandContext, name string) (any, error) {
	key := registryKey{typeID: reflect.TypeOf(cmd), name: name}

	reg.mu.RLock()
	entry, found := reg.entries[key]
	reg.mu.RUnlock()
	if !found {
		return nil, NewError(KindHandlerNotFound, fmt.Sprintf("no pipeline registered for %s", key), cc)
	}

	return entry.RunErased(ctx, cmd, cc)
}

// Entries returns a snapshot of every registered entry's metadata.
func (reg *PipelineRegistry) Entries() []RegistryEntry {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]RegistryEntry, 0, len(reg.meta))
	for _, m := range reg.meta {
		out = append(out, m)
	}
	return out
}

// NamesForType returns every name registered for the given command type.
func (reg *PipelineRegistry) NamesForType(typeID reflect.Type) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	keys := reg.byType[typeID]
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.name
	}
	return names
}

// Pipelines returns the dispatchable (type-erased) pipelines registered
// for typeID, in no particular order. Use this when the caller knows only
// the command's reflect.Type, not its static (C, R) pair.
func (reg *PipelineRegistry) Pipelines(typeID reflect.Type) []ErasedPipeline {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	keys := reg.byType[typeID]
	out := make([]ErasedPipeline, 0, len(keys))
	for _, k := range keys {
		out = append(out, reg.entries[k])
	}
	return out
}

// Remove deletes the pipeline registered for C under name, reporting
// whether an entry actually existed to remove.
func Remove[C any](reg *PipelineRegistry, name string) bool {
	typeID := reflect.TypeFor[C]()
	key := registryKey{typeID: typeID, name: name}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.removeKeyLocked(key)
}

// removeKeyLocked deletes key's entry and metadata and prunes it from the
// byType secondary index. reg.mu must be held for writing.
func (reg *PipelineRegistry) removeKeyLocked(key registryKey) bool {
	if _, found := reg.entries[key]; !found {
		return false
	}
	delete(reg.entries, key)
	delete(reg.meta, key)

	keys := reg.byType[key.typeID]
	for i, k := range keys {
		if k == key {
			reg.byType[key.typeID] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(reg.byType[key.typeID]) == 0 {
		delete(reg.byType, key.typeID)
	}
	return true
}

// RemoveAll deletes pipelines from the registry. Called with no arguments
// it clears every registered pipeline; called with one or more
// reflect.Types it deletes only the pipelines registered for those command
// types. It returns the number of entries removed.
func (reg *PipelineRegistry) RemoveAll(typeIDs ...reflect.Type) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if len(typeIDs) == 0 {
		n := len(reg.entries)
		reg.entries = make(map[registryKey]ErasedPipeline)
		reg.meta = make(map[registryKey]RegistryEntry)
		reg.byType = make(map[reflect.Type][]registryKey)
		return n
	}

	removed := 0
	for _, typeID := range typeIDs {
		keys := append([]registryKey(nil), reg.byType[typeID]...)
		for _, k := range keys {
			if reg.removeKeyLocked(k) {
				removed++
			}
		}
	}
	return removed
}

// RegistryStats summarizes a registry's current contents.
type RegistryStats struct {
	PipelineCount    int
	CommandTypeCount int
	PipelinesByType  map[reflect.Type]int
}

// Stats reports how many pipelines are registered overall, how many
// distinct command types they cover, and a per-type breakdown.
func (reg *PipelineRegistry) Stats() RegistryStats {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	byType := make(map[reflect.Type]int, len(reg.byType))
	for typeID, keys := range reg.byType {
		byType[typeID] = len(keys)
	}
	return RegistryStats{
		PipelineCount:    len(reg.entries),
		CommandTypeCount: len(reg.byType),
		PipelinesByType:  byType,
	}
}
