// Package hashkey implements the Hash & Handle Layer: stable, keyed
// 64-bit hashes of plugin, property, event, and action names, and the
// paired (plugin, item) handles used across every host API call.
//
// Hashes must be stable across processes and builds. The original
// DataRace implementation keys a HighwayHash-64 with four distinct
// 4-lane keys (one per item kind). No example repo in this project's
// retrieval corpus vendors HighwayHash, but cespare/xxhash/v2 is
// already an indirect dependency everywhere go-redis/v9 is used and
// exposes the same shape of primitive (NewWithSeed): a real keyed
// 64-bit hash. Four distinct uint64 seeds replace the four [4]byte
// keys; the hash function changes, the keying discipline does not.
package hashkey

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	seedPlugin   uint64 = 0x1020304050607080
	seedProperty uint64 = 0x2040304090102030
	seedEvent    uint64 = 0x30405060a0b0c0d0
	seedAction   uint64 = 0x405060708090a0b0
)

// PluginID is a 64-bit keyed hash of a lowercased plugin name.
type PluginID uint64

// ItemHash is a 64-bit keyed hash of a property, event, or action name.
type ItemHash uint64

// Handle pairs a PluginID with an ItemHash. Each item kind hashes its
// name with a distinct key, so an identically named property, event,
// and action belonging to the same plugin yield three distinct
// ItemHash values, but share the PluginID.
type Handle struct {
	Plugin PluginID
	Item   ItemHash
}

type (
	PropertyHandle Handle
	EventHandle    Handle
	ActionHandle   Handle
)

func keyedHash(seed uint64, s string) uint64 {
	d := xxhash.NewWithSeed(seed)
	_, _ = d.WriteString(s)
	return d.Sum64()
}

// PluginHash hashes a plugin name. Returns ok=false if the name
// contains a dot (plugin names may not be qualified).
func PluginHash(name string) (PluginID, bool) {
	name = strings.TrimSpace(name)
	if strings.Contains(name, ".") {
		return 0, false
	}
	lower := strings.ToLower(name)
	return PluginID(keyedHash(seedPlugin, lower)), true
}

// PropertyHash hashes an item (property) short name. Returns
// ok=false if the name has a leading or trailing dot.
func PropertyHash(item string) (ItemHash, bool) {
	return itemHash(seedProperty, item)
}

// EventHash hashes an item (event) short name.
func EventHash(item string) (ItemHash, bool) {
	return itemHash(seedEvent, item)
}

// ActionHash hashes an item (action) short name.
func ActionHash(item string) (ItemHash, bool) {
	return itemHash(seedAction, item)
}

func itemHash(seed uint64, item string) (ItemHash, bool) {
	item = strings.TrimSpace(item)
	if item == "" || strings.HasPrefix(item, ".") || strings.HasSuffix(item, ".") {
		return 0, false
	}
	lower := strings.ToLower(item)
	return ItemHash(keyedHash(seed, lower)), true
}

// ParseQualified splits "plugin.item[.more]" into its plugin segment
// (everything before the first dot) and item segment (the remainder).
// Both segments must be non-empty after trimming whitespace; the name
// must contain at least one dot.
func ParseQualified(name string) (pluginSeg, itemSeg string, ok bool) {
	trimmed := strings.TrimSpace(name)
	idx := strings.IndexByte(trimmed, '.')
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", false
	}
	plugin := trimmed[:idx]
	item := trimmed[idx+1:]
	if plugin == "" || item == "" {
		return "", "", false
	}
	return plugin, item, true
}

// NewPropertyHandle resolves a fully qualified "plugin.property" name
// into a PropertyHandle.
func NewPropertyHandle(qualified string) (PropertyHandle, bool) {
	pluginSeg, itemSeg, ok := ParseQualified(qualified)
	if !ok {
		return PropertyHandle{}, false
	}
	pid, ok := PluginHash(pluginSeg)
	if !ok {
		return PropertyHandle{}, false
	}
	ih, ok := PropertyHash(itemSeg)
	if !ok {
		return PropertyHandle{}, false
	}
	return PropertyHandle{Plugin: pid, Item: ih}, true
}

// NewEventHandle resolves a fully qualified "plugin.event" name.
func NewEventHandle(qualified string) (EventHandle, bool) {
	pluginSeg, itemSeg, ok := ParseQualified(qualified)
	if !ok {
		return EventHandle{}, false
	}
	pid, ok := PluginHash(pluginSeg)
	if !ok {
		return EventHandle{}, false
	}
	ih, ok := EventHash(itemSeg)
	if !ok {
		return EventHandle{}, false
	}
	return EventHandle{Plugin: pid, Item: ih}, true
}

// NewActionHandle resolves a fully qualified "plugin.action" name.
func NewActionHandle(qualified string) (ActionHandle, bool) {
	pluginSeg, itemSeg, ok := ParseQualified(qualified)
	if !ok {
		return ActionHandle{}, false
	}
	pid, ok := PluginHash(pluginSeg)
	if !ok {
		return ActionHandle{}, false
	}
	ih, ok := ActionHash(itemSeg)
	if !ok {
		return ActionHandle{}, false
	}
	return ActionHandle{Plugin: pid, Item: ih}, true
}
