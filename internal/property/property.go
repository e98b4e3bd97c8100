// Package property defines the Property record and the central,
// cross-plugin Index the websocket collaborator and DataStore consult.
// The per-plugin owned/subscribed maps live on pluginhandle.Handle;
// this package supplies the shared Property type and the datastore's
// mirror index over it.
package property

import (
	"sync"

	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/value"
)

// Property is a named, typed, observable cell owned by exactly one
// plugin. Only the owner may write through update; subscribers hold a
// read-only reference to the same Cell.
type Property struct {
	ShortName   string
	Owner       hashkey.PluginID
	Kind        value.Kind
	Cell        *value.Cell
	AllowModify bool
}

// Index is the process-wide, cross-plugin property index the
// DataStore and websocket bridge use: a mirror of every live
// property's handle -> cell and handle -> display name, independent
// of any single plugin's owned-properties map.
type Index struct {
	mu    sync.RWMutex
	cells map[hashkey.PropertyHandle]*value.Cell
	names map[hashkey.PropertyHandle]string
}

func NewIndex() *Index {
	return &Index{
		cells: make(map[hashkey.PropertyHandle]*value.Cell),
		names: make(map[hashkey.PropertyHandle]string),
	}
}

// Set mirrors a property's cell and display name into the index.
// Called under the DataStore's write lock on create, and again on a
// type change (the cell reference changes, the handle does not).
func (idx *Index) Set(h hashkey.PropertyHandle, cell *value.Cell, displayName string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cells[h] = cell
	idx.names[h] = displayName
}

// Delete removes a property's mirror entry.
func (idx *Index) Delete(h hashkey.PropertyHandle) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.cells, h)
	delete(idx.names, h)
}

// Get returns the mirrored cell for h, if any.
func (idx *Index) Get(h hashkey.PropertyHandle) (*value.Cell, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c, ok := idx.cells[h]
	return c, ok
}

// Name returns the display name registered for h, if any.
func (idx *Index) Name(h hashkey.PropertyHandle) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.names[h]
	return n, ok
}

// DeleteOwnedBy removes every index entry whose handle's plugin
// component is id. Used when a plugin dies and its properties are
// swept from the central index.
func (idx *Index) DeleteOwnedBy(id hashkey.PluginID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for h := range idx.cells {
		if h.Plugin == id {
			delete(idx.cells, h)
			delete(idx.names, h)
		}
	}
}

// Snapshot returns every handle currently in the index, for the
// websocket bridge's initial dashboard sync.
func (idx *Index) Snapshot() []hashkey.PropertyHandle {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]hashkey.PropertyHandle, 0, len(idx.cells))
	for h := range idx.cells {
		out = append(out, h)
	}
	return out
}
