// Command sample is a reference dynamic plugin: it documents the
// four Go-native ABI symbols a .so must export and is meant to be
// built with `go build -buildmode=plugin -o sample.so`. It registers
// one property ("uptime_seconds") at Init and increments it on every
// internal-message tick, entirely through the host API surface — it
// never touches a Cell or a LoaderMessage directly.
//
// This file is not part of the pulsehost module's own build (plugins
// are built standalone, each as its own main package, the same way
// the host's discovery.go expects to find them on disk), so it
// carries its own package main rather than living under cmd/ or
// internal/.
package main

import (
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/host"
	"github.com/streamspace/pulsehost/internal/hostapi"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/pluginhandle"
	"github.com/streamspace/pulsehost/internal/value"
)

const (
	pluginName       = "sample"
	uptimePropQual   = "sample.uptime_seconds"
	uptimePropShort  = "uptime_seconds"
)

// GetPluginDescription is resolved by name via plugin.Lookup; its
// static type must match func() host.PluginDescription exactly.
func GetPluginDescription() host.PluginDescription {
	id, _ := hashkey.PluginHash(pluginName)
	return host.PluginDescription{
		Name:       pluginName,
		ID:         id,
		Version:    pluginhandle.Version{1, 0, 0},
		APIVersion: host.HostAPIVersion,
	}
}

// FreeString exists only so discovery.go's symbol-shape check finds
// it; it does nothing on either side of the plugin.Open boundary.
func FreeString(uintptr) {}

// Init and Update are exported variables of the host's named function
// types: plugin.Lookup returns a pointer to an exported variable, and
// discovery.go asserts it against *host.InitFunc/*host.UpdateFunc. A
// plain func declaration would be looked up as a func value of a
// different type and fail that assertion.
var Init host.InitFunc = doInit
var Update host.UpdateFunc = doUpdate

func doInit(c *hostapi.Context) int32 {
	handle, err := c.GeneratePropertyHandle(uptimePropQual)
	if err != nil {
		c.LogError("sample: invalid property handle: " + err.Error())
		return 1
	}
	if err := c.CreateProperty(uptimePropShort, handle, value.Int(0), true); err != nil {
		c.LogError("sample: create_property failed: " + err.Error())
		return 1
	}
	return 0
}

func doUpdate(c *hostapi.Context, msg messages.HostMessage) int32 {
	if msg.Kind != messages.HostInternalMessage {
		return 0
	}

	handle, err := c.GeneratePropertyHandle(uptimePropQual)
	if err != nil {
		return 0
	}
	current, err := c.GetPropertyValue(handle)
	if err != nil {
		return 0
	}
	n, ok := current.Int()
	if !ok {
		return 0
	}
	if err := c.UpdateProperty(handle, value.Int(n+1)); err != nil {
		c.LogError("sample: update_property failed: " + err.Error())
		return 0
	}
	return 0
}

func main() {}
