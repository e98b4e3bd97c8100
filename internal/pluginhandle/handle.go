// Package pluginhandle defines the per-plugin record: identity,
// channels, the cooperative lock, the opaque plugin-local state
// pointer, and the ownership/subscription maps. The loader task
// (package loader) is the sole mutator of a Handle's maps once it
// reaches Running.
package pluginhandle

import (
	"sync"
	"unsafe"

	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/value"
)

// Status is the plugin handle's coarse lifecycle status, per
// spec.md §3.5. The loader task's own state machine (package loader)
// is a finer-grained superset used only internally by the loader.
type Status int32

const (
	StatusInit Status = iota
	StatusRunning
	StatusDead
)

// Version is a plugin's [major, minor, patch] triplet.
type Version [3]uint16

// Less reports whether v is a lower version than other, used by the
// host's reload-time version-downgrade warning (SPEC_FULL.md
// supplemented feature, grounded in original_source's loader).
func (v Version) Less(other Version) bool {
	for i := 0; i < 3; i++ {
		if v[i] != other[i] {
			return v[i] < other[i]
		}
	}
	return false
}

func (v Version) String() string {
	return itoa(v[0]) + "." + itoa(v[1]) + "." + itoa(v[2])
}

func itoa(n uint16) string {
	if n == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Handle is the per-plugin record described in spec.md §3.5.
type Handle struct {
	Name    string
	ID      hashkey.PluginID
	Version Version

	Sender       messages.LoaderChan
	EventChannel messages.EventChan

	Lock CooperativeLock

	status atomicStatus

	mu            sync.Mutex // guards the maps below; loader is sole writer once Running
	properties    map[hashkey.ItemHash]messages.Property
	subscriptions map[hashkey.PropertyHandle]*value.Cell

	// subscribersOf tracks, per owned property, which other plugins
	// have an active subscription and their loader channel — needed
	// to fan out Unsubscribe on PropertyDelete and
	// UpdateSubscription on PropertyTypeChange.
	subscribersOf map[hashkey.ItemHash]map[hashkey.PluginID]messages.LoaderChan

	// StatePtr is an opaque pointer the plugin may stash for its own
	// use via get_state/save_state_now. The host neither
	// dereferences nor frees it; unsafe.Pointer mirrors the source's
	// raw-pointer contract across the ABI without the host ever
	// interpreting its referent's type.
	StatePtr unsafe.Pointer
}

type atomicStatus struct {
	mu sync.RWMutex
	v  Status
}

func (a *atomicStatus) Load() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.v
}

func (a *atomicStatus) Store(v Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.v = v
}

// New creates a plugin handle in StatusInit with empty maps.
func New(name string, id hashkey.PluginID, version Version, sender messages.LoaderChan, eventChan messages.EventChan) *Handle {
	h := &Handle{
		Name:          name,
		ID:            id,
		Version:       version,
		Sender:        sender,
		EventChannel:  eventChan,
		properties:    make(map[hashkey.ItemHash]messages.Property),
		subscriptions: make(map[hashkey.PropertyHandle]*value.Cell),
		subscribersOf: make(map[hashkey.ItemHash]map[hashkey.PluginID]messages.LoaderChan),
	}
	h.status.Store(StatusInit)
	return h
}

func (h *Handle) Status() Status     { return h.status.Load() }
func (h *Handle) SetStatus(s Status) { h.status.Store(s) }

// --- Writer-only map access: callers must hold h.Lock (AcquireWriter/ReleaseWriter) ---

// PutProperty inserts or replaces an owned property. Caller must hold
// the writer lock.
func (h *Handle) PutProperty(item hashkey.ItemHash, p messages.Property) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.properties[item] = p
}

// RemoveProperty deletes an owned property. Caller must hold the
// writer lock.
func (h *Handle) RemoveProperty(item hashkey.ItemHash) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.properties, item)
}

// GetProperty is safe for concurrent reads; it takes an internal
// short-lived lock so plugin worker threads calling get_property_value
// on an owned property don't race the loader's map mutation.
func (h *Handle) GetProperty(item hashkey.ItemHash) (messages.Property, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.properties[item]
	return p, ok
}

// PropertyCount returns the number of owned properties.
func (h *Handle) PropertyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.properties)
}

// OwnedHandles returns the PropertyHandle for every owned property.
func (h *Handle) OwnedHandles() []hashkey.PropertyHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]hashkey.PropertyHandle, 0, len(h.properties))
	for item := range h.properties {
		out = append(out, hashkey.PropertyHandle{Plugin: h.ID, Item: item})
	}
	return out
}

// AddSubscriber records that subscriberID now observes the owned
// property item via its loader channel ch. Caller must hold the
// writer lock.
func (h *Handle) AddSubscriber(item hashkey.ItemHash, subscriberID hashkey.PluginID, ch messages.LoaderChan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribersOf[item]
	if !ok {
		subs = make(map[hashkey.PluginID]messages.LoaderChan)
		h.subscribersOf[item] = subs
	}
	subs[subscriberID] = ch
}

// RemoveSubscriber removes subscriberID from item's subscriber list.
// Silent (no-op) if already absent, matching HasUnsubscribed's
// idempotent contract.
func (h *Handle) RemoveSubscriber(item hashkey.ItemHash, subscriberID hashkey.PluginID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribersOf[item], subscriberID)
}

// SubscribersOf returns a snapshot of item's current subscriber
// channels, for fan-out on delete/type-change.
func (h *Handle) SubscribersOf(item hashkey.ItemHash) map[hashkey.PluginID]messages.LoaderChan {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[hashkey.PluginID]messages.LoaderChan, len(h.subscribersOf[item]))
	for k, v := range h.subscribersOf[item] {
		out[k] = v
	}
	return out
}

// ClearSubscribers drops the entire subscriber list for item (called
// after PropertyDelete has fanned out Unsubscribe to each).
func (h *Handle) ClearSubscribers(item hashkey.ItemHash) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribersOf, item)
}

// PutSubscription inserts or replaces a subscribed cell reference.
func (h *Handle) PutSubscription(ph hashkey.PropertyHandle, cell *value.Cell) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscriptions[ph] = cell
}

// RemoveSubscription drops a subscribed cell reference.
func (h *Handle) RemoveSubscription(ph hashkey.PropertyHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscriptions, ph)
}

// GetSubscription returns the subscribed cell for ph, if any. Between
// step 1 and step 3 of the three-phase subscription protocol this
// correctly returns ok=false (spec.md §5 ordering guarantee).
func (h *Handle) GetSubscription(ph hashkey.PropertyHandle) (*value.Cell, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.subscriptions[ph]
	return c, ok
}
