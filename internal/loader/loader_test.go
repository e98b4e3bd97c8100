package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamspace/pulsehost/internal/datastore"
	"github.com/streamspace/pulsehost/internal/eventtask"
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hostapi"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/pluginhandle"
	"github.com/streamspace/pulsehost/internal/value"
)

// harness wires a DataStore + event task + N loaders together the way
// package host would, minus plugin discovery, for integration-style
// tests of the scenarios in spec.md §8.
type harness struct {
	ds     *datastore.DataStore
	events *eventtask.Task
}

func newHarness(t *testing.T) *harness {
	events := eventtask.New(64)
	go events.Run()
	t.Cleanup(func() {
		events.Inbox <- messages.EventMessage{Kind: messages.EvtShutdown}
		<-events.Done()
	})
	ds := datastore.New(events.Inbox, nil)
	return &harness{ds: ds, events: events}
}

// spawn starts a loader for a plugin with the given callbacks (a nil
// Init or Update is replaced by a no-op returning 0) and waits until it
// reaches StateRunning.
func (h *harness) spawn(t *testing.T, name string, init func(*hostapi.Context) int32, update func(*hostapi.Context, messages.HostMessage) int32) (*Loader, hashkey.PluginID) {
	id, ok := hashkey.PluginHash(name)
	require.True(t, ok)

	inbox := make(messages.LoaderChan, 64)
	handle := pluginhandle.New(name, id, pluginhandle.Version{1, 0, 0}, inbox, h.events.Inbox)
	if init == nil {
		init = func(*hostapi.Context) int32 { return 0 }
	}
	if update == nil {
		update = func(*hostapi.Context, messages.HostMessage) int32 { return 0 }
	}
	l := New(handle, h.ds, Plugin{Init: init, Update: update}, inbox)
	go l.Run()

	require.Eventually(t, func() bool { return l.State() == StateRunning }, time.Second, time.Millisecond)
	return l, id
}

// TestPropertyCreateAndReadBack covers S1: a plugin creates a
// property and the central index carries its current value.
func TestPropertyCreateAndReadBack(t *testing.T) {
	h := newHarness(t)
	l, id := h.spawn(t, "producer", nil, nil)

	item, ok := hashkey.PropertyHash("temperature")
	require.True(t, ok)
	cell := value.NewCellWith(value.Int(42))

	l.Inbox() <- messages.LoaderMessage{
		Kind:     messages.MsgPropertyCreate,
		ItemHash: item,
		Property: messages.Property{ShortName: "temperature", Owner: id, Kind: value.KindInt, Cell: cell, AllowModify: true},
	}

	ph := hashkey.PropertyHandle{Plugin: id, Item: item}
	require.Eventually(t, func() bool {
		c, ok := h.ds.Index().Get(ph)
		if !ok {
			return false
		}
		n, _ := c.Read().Int()
		return n == 42
	}, time.Second, time.Millisecond)
}

// TestSubscriptionThreePhaseProtocol covers S2: subscriber -> owner ->
// subscriber round trip delivers the owner's live cell reference.
func TestSubscriptionThreePhaseProtocol(t *testing.T) {
	h := newHarness(t)

	owner, ownerID := h.spawn(t, "owner", nil, nil)
	_ = owner

	item, _ := hashkey.PropertyHash("speed")
	cell := value.NewCellWith(value.Int(7))
	ph := hashkey.PropertyHandle{Plugin: ownerID, Item: item}

	owner.Inbox() <- messages.LoaderMessage{
		Kind:     messages.MsgPropertyCreate,
		ItemHash: item,
		Property: messages.Property{ShortName: "speed", Owner: ownerID, Kind: value.KindInt, Cell: cell, AllowModify: true},
	}
	require.Eventually(t, func() bool {
		_, ok := h.ds.Index().Get(ph)
		return ok
	}, time.Second, time.Millisecond)

	subscriber, subID := h.spawn(t, "subscriber", nil, nil)
	_ = subID

	subscriber.Inbox() <- messages.LoaderMessage{Kind: messages.MsgSubscribe, Handle: ph}

	require.Eventually(t, func() bool {
		c, ok := subscriber.Handle.GetSubscription(ph)
		if !ok {
			return false
		}
		n, _ := c.Read().Int()
		return n == 7
	}, time.Second, time.Millisecond)
}

// TestPropertyTypeChangePropagatesToSubscribers covers S3: a type
// change replaces the cell reference and every current subscriber
// receives UpdateSubscription with the new cell.
func TestPropertyTypeChangePropagatesToSubscribers(t *testing.T) {
	h := newHarness(t)

	owner, ownerID := h.spawn(t, "owner2", nil, nil)
	item, _ := hashkey.PropertyHash("mode")
	ph := hashkey.PropertyHandle{Plugin: ownerID, Item: item}

	owner.Inbox() <- messages.LoaderMessage{
		Kind:     messages.MsgPropertyCreate,
		ItemHash: item,
		Property: messages.Property{ShortName: "mode", Owner: ownerID, Kind: value.KindInt, Cell: value.NewCellWith(value.Int(1)), AllowModify: true},
	}
	require.Eventually(t, func() bool { _, ok := h.ds.Index().Get(ph); return ok }, time.Second, time.Millisecond)

	subscriber, _ := h.spawn(t, "subscriber2", nil, nil)
	subscriber.Inbox() <- messages.LoaderMessage{Kind: messages.MsgSubscribe, Handle: ph}
	require.Eventually(t, func() bool {
		_, ok := subscriber.Handle.GetSubscription(ph)
		return ok
	}, time.Second, time.Millisecond)

	newCell := value.NewCellWith(value.Str("active"))
	owner.Inbox() <- messages.LoaderMessage{
		Kind:        messages.MsgPropertyTypeChange,
		ItemHash:    item,
		NewCell:     newCell,
		AllowModify: true,
	}

	require.Eventually(t, func() bool {
		c, ok := subscriber.Handle.GetSubscription(ph)
		if !ok {
			return false
		}
		s, isStr := c.Read().String()
		return isStr && s == "active"
	}, time.Second, time.Millisecond)
}

// TestActionRoundTrip covers S5: a dispatched action arrives at the
// target's Update as HostAction, and a callback routes back to the
// original caller as HostActionCallback.
func TestActionRoundTrip(t *testing.T) {
	h := newHarness(t)

	// Only action traffic is forwarded: both plugins also see
	// StartupFinished and OtherPluginStarted through Update.
	received := make(chan messages.HostMessage, 4)
	target, targetID := h.spawn(t, "target", nil, func(c *hostapi.Context, hm messages.HostMessage) int32 {
		if hm.Kind == messages.HostAction || hm.Kind == messages.HostActionCallback {
			received <- hm
		}
		return 0
	})
	_ = target

	caller, callerID := h.spawn(t, "caller", nil, func(c *hostapi.Context, hm messages.HostMessage) int32 {
		if hm.Kind == messages.HostAction || hm.Kind == messages.HostActionCallback {
			received <- hm
		}
		return 0
	})
	_ = caller

	actionCode, _ := hashkey.ActionHash("do_thing")
	id, err := h.ds.DispatchAction(targetID, callerID, uint64(actionCode), []value.Value{value.Int(9)})
	require.NoError(t, err)

	var hm messages.HostMessage
	select {
	case hm = <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for action delivery")
	}
	require.Equal(t, messages.HostAction, hm.Kind)
	require.Equal(t, id, hm.Action.ID)
	require.Equal(t, callerID, hm.Action.Origin)

	err = h.ds.DispatchActionCallback(callerID, hm.Action, 0, targetID, []value.Value{value.Int(10)})
	require.NoError(t, err)

	select {
	case hm = <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for action callback delivery")
	}
	require.Equal(t, messages.HostActionCallback, hm.Kind)
	require.Equal(t, id, hm.Action.ID)
}

// TestActionToUnknownTargetFails covers S6: dispatching to an
// unregistered plugin id fails without enqueuing anything.
func TestActionToUnknownTargetFails(t *testing.T) {
	h := newHarness(t)
	unknown := hashkey.PluginID(0xdeadbeef)
	_, err := h.ds.DispatchAction(unknown, hashkey.PluginID(1), 1, nil)
	require.Error(t, err)
}

// TestLockFromPluginRejectsDuringCallback exercises the cooperative
// lock's non-reentrancy guard: lock_plugin called from within Update
// must fail rather than deadlock.
func TestLockFromPluginRejectsDuringCallback(t *testing.T) {
	h := newHarness(t)
	errs := make(chan error, 1)
	l, _ := h.spawn(t, "selflocker", nil, func(c *hostapi.Context, hm messages.HostMessage) int32 {
		if hm.Kind == messages.HostStartupFinished {
			errs <- c.LockPlugin()
		}
		return 0
	})
	_ = l

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reentrant lock attempt")
	}
}

// TestPluginUpdatePanicTerminatesPlugin ensures a panicking Update is
// recovered and the plugin is marked Dead rather than taking down the
// whole host.
func TestPluginUpdatePanicTerminatesPlugin(t *testing.T) {
	h := newHarness(t)
	l, _ := h.spawn(t, "panicker", nil, func(c *hostapi.Context, hm messages.HostMessage) int32 {
		panic("boom")
	})

	require.Eventually(t, func() bool { return l.State() == StateDead }, time.Second, time.Millisecond)
}

// TestNonZeroInitLeaksHandle covers spec.md §4.8 step 6: a plugin
// whose Init returns non-zero is left unsafe-shutdown (the handle is
// leaked, not released), the same as an Init panic.
func TestNonZeroInitLeaksHandle(t *testing.T) {
	h := newHarness(t)

	id, ok := hashkey.PluginHash("badinit")
	require.True(t, ok)
	inbox := make(messages.LoaderChan, 64)
	handle := pluginhandle.New("badinit", id, pluginhandle.Version{1, 0, 0}, inbox, h.events.Inbox)
	l := New(handle, h.ds, Plugin{
		Init:   func(*hostapi.Context) int32 { return 1 },
		Update: func(*hostapi.Context, messages.HostMessage) int32 { return 0 },
	}, inbox)

	go l.Run()

	require.Eventually(t, func() bool { return l.State() == StateDead }, time.Second, time.Millisecond)
	require.False(t, l.safeShutdown.Load())
}

// TestNonZeroUpdateLeaksHandle covers the analogous case for Update:
// a non-zero return during the message loop must also leave
// safeShutdown false, not just an uncaught panic.
func TestNonZeroUpdateLeaksHandle(t *testing.T) {
	h := newHarness(t)
	l, _ := h.spawn(t, "badupdate", nil, func(c *hostapi.Context, hm messages.HostMessage) int32 {
		if hm.Kind == messages.HostStartupFinished {
			return 1
		}
		return 0
	})

	require.Eventually(t, func() bool { return l.State() == StateDead }, time.Second, time.Millisecond)
	require.False(t, l.safeShutdown.Load())
}

// TestCleanShutdownReleasesHandle confirms the positive case: a
// plugin that never misbehaves and is torn down via Shutdown keeps
// safeShutdown true, so DeletePlugin releases rather than leaks it.
func TestCleanShutdownReleasesHandle(t *testing.T) {
	h := newHarness(t)
	l, _ := h.spawn(t, "clean", nil, nil)

	l.Inbox() <- messages.LoaderMessage{Kind: messages.MsgShutdown}

	require.Eventually(t, func() bool { return l.State() == StateDead }, time.Second, time.Millisecond)
	require.True(t, l.safeShutdown.Load())
}
