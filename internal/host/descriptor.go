// Package host implements the Host Runtime of spec.md §4.8: plugin
// discovery, the four-symbol Go-native ABI resolution, the load/
// reload/unload sequence, and the builtin-plugin registry. Adapted
// from the teacher's internal/plugins/discovery.go and runtime_v2.go
// lifecycle orchestration, restructured around spec.md's
// loader/datastore/event-task wiring instead of StreamSpace sessions.
package host

import (
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hostapi"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/pluginhandle"
)

// HostAPIVersion is the ABI version this host implements. A plugin's
// descriptor must match exactly or the load is rejected, per
// spec.md §4.8 step 4.
const HostAPIVersion uint64 = 1

// PluginDescription is the Go-native shape of spec.md §6.1's
// get_plugin_description result.
type PluginDescription struct {
	Name       string
	ID         hashkey.PluginID
	Version    pluginhandle.Version
	APIVersion uint64
}

// InitFunc and UpdateFunc mirror spec.md §6.1's init/update ABI
// entries. They take a *hostapi.Context rather than a raw
// *pluginhandle.Handle: in the original, the api_func entry points
// (create_property, update_property, ...) are themselves methods on
// the same PluginHandle passed to init/update, so a plugin's only way
// to reach the host is through that one value. hostapi.Context plays
// that combined role here, kept as its own type only because Go's
// import graph can't let pluginhandle.Handle hold the DataStore
// reference the original's PluginHandle does.
type InitFunc func(*hostapi.Context) int32
type UpdateFunc func(*hostapi.Context, messages.HostMessage) int32

// Descriptor bundles a plugin's identity with its two callback
// entry points, the Go-native equivalent of the four required ABI
// symbols (GetPluginDescription, FreeString, Init, Update) —
// FreeString carries no separate field since it is a no-op on both
// sides of a plugin.Open boundary (see SPEC_FULL.md).
type Descriptor struct {
	Describe func() PluginDescription
	Init     InitFunc
	Update   UpdateFunc
}

// Factory builds a fresh Descriptor for one plugin instance. Builtin
// plugins register a Factory directly; dynamic plugins get one
// synthesized from their resolved .so symbols.
type Factory func() Descriptor

// validate checks a resolved description against the host's expected
// identity and API version, per spec.md §4.8 step 4.
func validateDescription(desc PluginDescription, expectedName string) error {
	if desc.APIVersion != HostAPIVersion {
		return errAPIVersionMismatch(expectedName, desc.APIVersion)
	}
	wantID, ok := hashkey.PluginHash(expectedName)
	if !ok || wantID != desc.ID {
		return errIdentityMismatch(expectedName)
	}
	return nil
}
