package hostapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamspace/pulsehost/internal/datastore"
	"github.com/streamspace/pulsehost/internal/eventtask"
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hosterr"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/pluginhandle"
	"github.com/streamspace/pulsehost/internal/value"
)

func newTestContext(t *testing.T, name string) (*Context, *datastore.DataStore) {
	events := eventtask.New(64)
	go events.Run()
	t.Cleanup(func() {
		events.Inbox <- messages.EventMessage{Kind: messages.EvtShutdown}
		<-events.Done()
	})
	ds := datastore.New(events.Inbox, nil)

	id, ok := hashkey.PluginHash(name)
	require.True(t, ok)
	inbox := make(messages.LoaderChan, 64)
	handle := pluginhandle.New(name, id, pluginhandle.Version{1, 0, 0}, inbox, events.Inbox)
	require.NoError(t, ds.RegisterPlugin(id, inbox, handle))

	return New(handle, ds, nil), ds
}

// applyQueuedCreates does the loader's part for the PropertyCreate
// messages c has queued: no loader task drains the inbox in these
// tests, so the owned-properties map and the central index are filled
// here, the way the loader's PropertyCreate handler fills them.
func applyQueuedCreates(c *Context) {
	for {
		select {
		case msg := <-c.handle.Sender:
			if msg.Kind == messages.MsgPropertyCreate {
				c.handle.PutProperty(msg.ItemHash, msg.Property)
				c.ds.SetProperty(hashkey.PropertyHandle{Plugin: c.handle.ID, Item: msg.ItemHash}, msg.Property.Cell, msg.Property.ShortName)
			}
		default:
			return
		}
	}
}

// TestCreatePropertyRejectsHashMismatch covers testable property #15:
// a handle whose Item does not hash from name is ParameterCorrupted,
// checked before ownership.
func TestCreatePropertyRejectsHashMismatch(t *testing.T) {
	c, _ := newTestContext(t, "producer")

	wrongItem, ok := hashkey.PropertyHash("not_temperature")
	require.True(t, ok)
	bogus := hashkey.PropertyHandle{Plugin: c.handle.ID, Item: wrongItem}

	err := c.CreateProperty("temperature", bogus, value.Int(0), true)
	require.Error(t, err)
	require.Equal(t, hosterr.ParameterCorrupted, hosterr.CodeOf(err))
}

// TestCreatePropertyRejectsForeignOwner covers testable property #16:
// a correctly hashed handle naming a different plugin as owner is
// NotAuthenticated.
func TestCreatePropertyRejectsForeignOwner(t *testing.T) {
	c, _ := newTestContext(t, "producer")

	item, ok := hashkey.PropertyHash("temperature")
	require.True(t, ok)
	otherPlugin, ok := hashkey.PluginHash("someone-else")
	require.True(t, ok)
	foreign := hashkey.PropertyHandle{Plugin: otherPlugin, Item: item}

	err := c.CreateProperty("temperature", foreign, value.Int(0), true)
	require.Error(t, err)
	require.Equal(t, hosterr.NotAuthenticated, hosterr.CodeOf(err))
}

// TestCreatePropertySucceedsAndIsReadable confirms the happy path
// still works once the validation above passes.
func TestCreatePropertySucceedsAndIsReadable(t *testing.T) {
	c, ds := newTestContext(t, "producer")

	item, ok := hashkey.PropertyHash("temperature")
	require.True(t, ok)
	handle := hashkey.PropertyHandle{Plugin: c.handle.ID, Item: item}

	require.NoError(t, c.CreateProperty("temperature", handle, value.Int(42), true))
	applyQueuedCreates(c)

	require.Eventually(t, func() bool {
		cell, ok := ds.Index().Get(handle)
		if !ok {
			return false
		}
		n, _ := cell.Read().Int()
		return n == 42
	}, time.Second, time.Millisecond)
}

// TestUpdatePropertyRejectsNonOwnedHandle confirms a plugin cannot
// write to a property it does not own: UpdateProperty's owned-only
// lookup has no entry for a foreign or subscribed-only handle, so
// update_property fails closed rather than silently succeeding
// through a subscription.
func TestUpdatePropertyRejectsNonOwnedHandle(t *testing.T) {
	owner, ds := newTestContext(t, "owner")
	subscriber, _ := newTestContext(t, "subscriber")

	item, ok := hashkey.PropertyHash("speed")
	require.True(t, ok)
	handle := hashkey.PropertyHandle{Plugin: owner.handle.ID, Item: item}
	require.NoError(t, owner.CreateProperty("speed", handle, value.Int(1), true))
	applyQueuedCreates(owner)

	require.Eventually(t, func() bool {
		_, ok := ds.Index().Get(handle)
		return ok
	}, time.Second, time.Millisecond)

	// Simulate the subscriber having a cached read-only reference, the
	// way the three-phase subscription protocol installs one.
	cell, _ := ds.Index().Get(handle)
	subscriber.handle.PutSubscription(handle, cell)

	err := subscriber.UpdateProperty(handle, value.Int(999))
	require.Error(t, err)
	require.Equal(t, hosterr.DoesNotExist, hosterr.CodeOf(err))

	// The owner's cell must be untouched by the rejected call.
	n, _ := cell.Read().Int()
	require.Equal(t, int64(1), n)
}

// TestUpdatePropertyRejectsWhenModifyDisallowed covers AllowModify
// gating update_property for the owner itself.
func TestUpdatePropertyRejectsWhenModifyDisallowed(t *testing.T) {
	c, _ := newTestContext(t, "producer")

	item, ok := hashkey.PropertyHash("locked_value")
	require.True(t, ok)
	handle := hashkey.PropertyHandle{Plugin: c.handle.ID, Item: item}
	require.NoError(t, c.CreateProperty("locked_value", handle, value.Int(5), false))
	applyQueuedCreates(c)

	err := c.UpdateProperty(handle, value.Int(6))
	require.Error(t, err)
	require.Equal(t, hosterr.NotAuthenticated, hosterr.CodeOf(err))
}

// TestGetPropertyValueFallsBackToSubscription confirms a subscriber
// can still read (but, per the test above, never write) a property it
// does not own.
func TestGetPropertyValueFallsBackToSubscription(t *testing.T) {
	owner, _ := newTestContext(t, "owner2")
	subscriber, _ := newTestContext(t, "subscriber2")

	item, ok := hashkey.PropertyHash("mode")
	require.True(t, ok)
	handle := hashkey.PropertyHandle{Plugin: owner.handle.ID, Item: item}
	require.NoError(t, owner.CreateProperty("mode", handle, value.Int(3), true))
	applyQueuedCreates(owner)

	prop, ok := owner.handle.GetProperty(item)
	require.True(t, ok)
	subscriber.handle.PutSubscription(handle, prop.Cell)

	v, err := subscriber.GetPropertyValue(handle)
	require.NoError(t, err)
	n, _ := v.Int()
	require.Equal(t, int64(3), n)
}

// TestArrayValueRoundTrip exercises CreateArray/SetArrayValue/
// GetArrayValue/GetArrayLength/GetArrayType together.
func TestArrayValueRoundTrip(t *testing.T) {
	c, _ := newTestContext(t, "arrays")

	item, ok := hashkey.PropertyHash("samples")
	require.True(t, ok)
	handle := hashkey.PropertyHandle{Plugin: c.handle.ID, Item: item}
	require.NoError(t, c.CreateArray("samples", handle, value.KindFloat, 4, true))
	applyQueuedCreates(c)

	length, err := c.GetArrayLength(handle)
	require.NoError(t, err)
	require.Equal(t, 4, length)

	kind, err := c.GetArrayType(handle)
	require.NoError(t, err)
	require.Equal(t, value.KindFloat, kind)

	require.NoError(t, c.SetArrayValue(handle, 2, value.Float(1.5)))
	v, err := c.GetArrayValue(handle, 2)
	require.NoError(t, err)
	f, _ := v.Float()
	require.Equal(t, 1.5, f)

	// Out of bounds read returns None, not an error.
	v, err = c.GetArrayValue(handle, 99)
	require.NoError(t, err)
	require.Equal(t, value.KindNone, v.Kind())

	// Out of bounds write is rejected.
	err = c.SetArrayValue(handle, 99, value.Float(2))
	require.Error(t, err)
	require.Equal(t, hosterr.TypeMismatch, hosterr.CodeOf(err))
}

// TestGeneratePropertyHandleRequiresDot covers testable property #13:
// a qualified name without a dot is ParameterCorrupted.
func TestGeneratePropertyHandleRequiresDot(t *testing.T) {
	c, _ := newTestContext(t, "producer")
	_, err := c.GeneratePropertyHandle("noDot")
	require.Error(t, err)
	require.Equal(t, hosterr.ParameterCorrupted, hosterr.CodeOf(err))
}

// TestTriggerActionToUnknownTargetFails confirms TriggerAction passes
// datastore's unknown-target failure straight through.
func TestTriggerActionToUnknownTargetFails(t *testing.T) {
	c, _ := newTestContext(t, "caller")
	unknown := hashkey.ActionHandle{Plugin: hashkey.PluginID(0xdeadbeef), Item: 1}
	_, err := c.TriggerAction(unknown, nil)
	require.Error(t, err)
}

// TestSettingsBoundaryWithoutStoreReturnsNotImplemented confirms a
// Context built with a nil settings.Store fails closed rather than
// panicking.
func TestSettingsBoundaryWithoutStoreReturnsNotImplemented(t *testing.T) {
	c, _ := newTestContext(t, "nosettings")
	_, err := c.GetPluginSettingsProperty("anything")
	require.Error(t, err)
	require.Equal(t, hosterr.NotImplemented, hosterr.CodeOf(err))
}
