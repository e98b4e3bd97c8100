package host

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
)

func echoDescriptor(name string) Factory {
	return func() Descriptor {
		id, _ := hashkey.PluginHash(name)
		return Descriptor{
			Describe: func() PluginDescription {
				return PluginDescription{Name: name, ID: id, Version: pluginhandle.Version{1, 0, 0}, APIVersion: HostAPIVersion}
			},
			Init:   func(*hostapi.Context) int32 { return 0 },
			Update: func(*hostapi.Context, messages.HostMessage) int32 { return 0 },
		}
	}
}

func newTestRuntime(t *testing.T) (*Runtime, *datastore.DataStore) {
	events := eventtask.New(64)
	go events.Run()
	t.Cleanup(func() {
		events.Inbox <- messages.EventMessage{Kind: messages.EvtShutdown}
		<-events.Done()
	})
	ds := datastore.New(events.Inbox, nil)
	disc := NewDiscovery()
	return NewRuntime(disc, ds, events.Inbox), ds
}

func TestLoadBuiltinPluginReachesRunning(t *testing.T) {
	rt, ds := newTestRuntime(t)
	rt.Discovery().RegisterBuiltin("diagnostics", echoDescriptor("diagnostics"))

	require.NoError(t, rt.LoadPluginByName("diagnostics"))

	id, _ := hashkey.PluginHash("diagnostics")
	require.Eventually(t, func() bool {
		rec, ok := ds.GetRecord(id)
		return ok && rec.Handle.Status() == pluginhandle.StatusRunning
	}, time.Second, time.Millisecond)
}

func TestLoadUnknownPluginFails(t *testing.T) {
	rt, _ := newTestRuntime(t)
	err := rt.LoadPluginByName("does-not-exist")
	require.Error(t, err)
}

func TestLoadTwiceRejectsDuplicate(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.Discovery().RegisterBuiltin("dup", echoDescriptor("dup"))
	require.NoError(t, rt.LoadPluginByName("dup"))
	require.Error(t, rt.LoadPluginByName("dup"))
}

func TestUnloadPluginRemovesRecord(t *testing.T) {
	rt, ds := newTestRuntime(t)
	rt.Discovery().RegisterBuiltin("temp", echoDescriptor("temp"))
	require.NoError(t, rt.LoadPluginByName("temp"))

	id, _ := hashkey.PluginHash("temp")
	require.Eventually(t, func() bool {
		_, ok := ds.GetRecord(id)
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, rt.UnloadPlugin("temp"))

	require.Eventually(t, func() bool {
		_, ok := ds.GetRecord(id)
		return !ok
	}, time.Second, time.Millisecond)
}

func TestCompareVersion(t *testing.T) {
	require.Equal(t, 0, CompareVersion(pluginhandle.Version{1, 0, 0}, pluginhandle.Version{1, 0, 0}))
	require.Equal(t, -1, CompareVersion(pluginhandle.Version{1, 0, 0}, pluginhandle.Version{1, 1, 0}))
	require.Equal(t, 1, CompareVersion(pluginhandle.Version{2, 0, 0}, pluginhandle.Version{1, 9, 9}))
}
