// Package datastore implements the process-wide registry described in
// spec.md §3.6/§4.7: the plugin table, the central property index,
// the event task's sender, the websocket bridge's sender, and the
// shutdown control path. A single RW lock guards mutations that must
// appear atomic to the websocket collaborator; individual value
// updates bypass it entirely via the atomic ValueCell.
package datastore

import (
	"sync"

	"github.com/streamspace/pulsehost/internal/action"
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hosterr"
	"github.com/streamspace/pulsehost/internal/logger"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/pluginhandle"
	"github.com/streamspace/pulsehost/internal/property"
	"github.com/streamspace/pulsehost/internal/value"
)

// PluginRecord is what the DataStore keeps per registered plugin.
type PluginRecord struct {
	Loader messages.LoaderChan
	Handle *pluginhandle.Handle
}

// ChangedProperty is what DataStore forwards to the websocket bridge
// whenever a property mutation must be mirrored to dashboards.
type ChangedProperty struct {
	Handle hashkey.PropertyHandle
	Cell   *value.Cell
	Name   string
}

// WSSender is the outbound boundary to the websocket bridge
// (spec.md §6.2). The bridge itself lives in package wsbridge; the
// DataStore only needs to push ChangedProperty notifications through
// a channel-shaped interface, so it has no import on wsbridge.
type WSSender interface {
	NotifyChangedProperty(ChangedProperty)
}

// DataStore is the process-wide registry.
type DataStore struct {
	mu      sync.RWMutex
	plugins map[hashkey.PluginID]*PluginRecord
	index   *property.Index

	eventChan messages.EventChan
	ws        WSSender

	shutdown bool

	actions action.Counter

	// leaked keeps the handles of plugins deleted without a safe
	// shutdown reachable for the life of the process.
	leaked []*pluginhandle.Handle
}

// New constructs an empty DataStore wired to the given event task
// inbox and websocket sender. ws may be nil if no dashboard bridge is
// attached (e.g. in tests).
func New(eventChan messages.EventChan, ws WSSender) *DataStore {
	return &DataStore{
		plugins:   make(map[hashkey.PluginID]*PluginRecord),
		index:     property.NewIndex(),
		eventChan: eventChan,
		ws:        ws,
	}
}

// Index exposes the central property index to the websocket bridge
// for its initial dashboard sync.
func (ds *DataStore) Index() *property.Index { return ds.index }

// SetWSSender attaches the dashboard bridge after construction, since
// the bridge itself needs a *DataStore to route dashboard-triggered
// actions through — binding both directions at New time would require
// one of them to exist before the other.
func (ds *DataStore) SetWSSender(ws WSSender) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.ws = ws
}

// EventChan exposes the event task inbox so loaders can send it
// Subscribe/Unsubscribe/Trigger/Create/Remove messages directly.
func (ds *DataStore) EventChan() messages.EventChan { return ds.eventChan }

// RegisterPlugin inserts a new plugin record. Fails with AlreadyExists
// if id is already registered, or with a shutdown error if the
// datastore has begun shutting down.
func (ds *DataStore) RegisterPlugin(id hashkey.PluginID, loaderChan messages.LoaderChan, handle *pluginhandle.Handle) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.shutdown {
		return hosterr.New(hosterr.NotImplemented, "datastore is shutting down")
	}
	if _, exists := ds.plugins[id]; exists {
		return hosterr.AlreadyExistsf("plugin %v already registered", id)
	}
	ds.plugins[id] = &PluginRecord{Loader: loaderChan, Handle: handle}
	return nil
}

// DeletePlugin removes id's record. If safeShutdown is true the
// plugin handle storage is dropped; otherwise it is intentionally
// leaked (spec.md §4.8: a worker thread may still be executing
// against it). Every property owned by id is removed from the
// central index. The event task is notified via RemovePlugin so it
// can sweep event ownership and subscriptions, per spec.md §4.5.
//
// Per spec.md §9's open question (confirmed historically accurate by
// original_source/lib/src/datastore.rs's own unresolved TODO),
// subscribers of the dead plugin's properties are deliberately NOT
// notified here: their subscription entries are left dangling and
// will read through a ValueCell reference whose owner no longer
// mutates it.
func (ds *DataStore) DeletePlugin(id hashkey.PluginID, safeShutdown bool) {
	ds.mu.Lock()
	rec, ok := ds.plugins[id]
	if !ok {
		ds.mu.Unlock()
		return
	}
	delete(ds.plugins, id)
	ds.index.DeleteOwnedBy(id)
	if !safeShutdown {
		logger.DataStore().Warn().Uint64("plugin_id", uint64(id)).Msg("plugin handle leaked: unsafe shutdown")
		ds.leaked = append(ds.leaked, rec.Handle)
	}
	ds.mu.Unlock()

	if ds.eventChan != nil {
		ds.eventChan <- messages.EventMessage{Kind: messages.EvtRemovePlugin, PluginID: id}
	}
}

// SendToPlugin enqueues msg on id's loader channel. Returns false iff
// id is unknown.
func (ds *DataStore) SendToPlugin(id hashkey.PluginID, msg messages.LoaderMessage) bool {
	ds.mu.RLock()
	rec, ok := ds.plugins[id]
	ds.mu.RUnlock()
	if !ok {
		return false
	}
	rec.Loader <- msg
	return true
}

// GetRecord returns the plugin record for id, if registered.
func (ds *DataStore) GetRecord(id hashkey.PluginID) (*PluginRecord, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	rec, ok := ds.plugins[id]
	return rec, ok
}

// SetProperty mirrors a property's cell into the central index under
// the write lock, and notifies the websocket bridge.
func (ds *DataStore) SetProperty(h hashkey.PropertyHandle, cell *value.Cell, displayName string) {
	ds.mu.Lock()
	ds.index.Set(h, cell, displayName)
	ds.mu.Unlock()

	if ds.ws != nil {
		ds.ws.NotifyChangedProperty(ChangedProperty{Handle: h, Cell: cell, Name: displayName})
	}
}

// DeleteProperty clears a property's central index entry.
func (ds *DataStore) DeleteProperty(h hashkey.PropertyHandle) {
	ds.mu.Lock()
	ds.index.Delete(h)
	ds.mu.Unlock()
}

// RegisterPropertyName is a narrower form of SetProperty used when
// only the display name needs to be (re)established.
func (ds *DataStore) RegisterPropertyName(h hashkey.PropertyHandle, name string) {
	if cell, ok := ds.index.Get(h); ok {
		ds.SetProperty(h, cell, name)
	}
}

// StartShutdown sets the shutdown flag and broadcasts Shutdown to
// every registered loader and to the event task.
func (ds *DataStore) StartShutdown() {
	ds.mu.Lock()
	ds.shutdown = true
	records := make([]*PluginRecord, 0, len(ds.plugins))
	for _, rec := range ds.plugins {
		records = append(records, rec)
	}
	ds.mu.Unlock()

	for _, rec := range records {
		rec.Loader <- messages.LoaderMessage{Kind: messages.MsgShutdown}
	}
	if ds.eventChan != nil {
		ds.eventChan <- messages.EventMessage{Kind: messages.EvtShutdown}
	}
}

// IsShuttingDown reports whether StartShutdown has been called.
func (ds *DataStore) IsShuttingDown() bool {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.shutdown
}

// SetPluginReady transitions id from Init to Running and exchanges
// OtherPluginStarted notifications with every other already-Running
// plugin, per spec.md §4.7.
func (ds *DataStore) SetPluginReady(id hashkey.PluginID) {
	ds.mu.Lock()
	rec, ok := ds.plugins[id]
	if !ok {
		ds.mu.Unlock()
		return
	}
	rec.Handle.SetStatus(pluginhandle.StatusRunning)

	others := make([]*PluginRecord, 0, len(ds.plugins))
	for otherID, other := range ds.plugins {
		if otherID == id {
			continue
		}
		if other.Handle.Status() == pluginhandle.StatusRunning {
			others = append(others, other)
		}
	}
	ds.mu.Unlock()

	for _, other := range others {
		other.Loader <- messages.LoaderMessage{Kind: messages.MsgOtherPluginStarted, OtherPlugin: id}
		rec.Loader <- messages.LoaderMessage{Kind: messages.MsgOtherPluginStarted, OtherPlugin: other.Handle.ID}
	}
}

// DispatchAction implements the action-request path of spec.md §4.6:
// it synchronously allocates the next action id, and enqueues the
// request on the target's loader. Returns ParameterCorrupted iff the
// target plugin is unknown, and no message is enqueued anywhere
// (spec.md scenario S6).
func (ds *DataStore) DispatchAction(target hashkey.PluginID, origin hashkey.PluginID, actionCode uint64, params []value.Value) (uint64, error) {
	ds.mu.RLock()
	rec, ok := ds.plugins[target]
	ds.mu.RUnlock()
	if !ok {
		return 0, hosterr.ParameterCorruptedf("unknown target plugin %v", target)
	}

	id := ds.actions.Next()
	act := action.NewRequest(id, origin, actionCode, params)
	rec.Loader <- messages.LoaderMessage{Kind: messages.MsgAction, Action: act}
	return id, nil
}

// DispatchActionCallback implements the callback path: it enqueues an
// ActionCallback on the original caller's loader.
func (ds *DataStore) DispatchActionCallback(originalCaller hashkey.PluginID, original messages.Action, code uint64, from hashkey.PluginID, params []value.Value) error {
	ds.mu.RLock()
	rec, ok := ds.plugins[originalCaller]
	ds.mu.RUnlock()
	if !ok {
		return hosterr.ParameterCorruptedf("unknown caller plugin %v", originalCaller)
	}
	cb := action.NewCallback(original, code, from, params)
	rec.Loader <- messages.LoaderMessage{Kind: messages.MsgActionCallback, Action: cb}
	return nil
}

// CountRunning returns the number of plugins currently in
// StatusRunning.
func (ds *DataStore) CountRunning() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	n := 0
	for _, rec := range ds.plugins {
		if rec.Handle.Status() == pluginhandle.StatusRunning {
			n++
		}
	}
	return n
}
