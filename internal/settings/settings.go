// Package settings implements the external settings-store boundary
// named in spec.md §6.2: synchronous reads/writes of per-plugin
// settings. hostapi calls a Store directly, without taking the
// datastore lock; each Store implementation synchronizes its own
// state. spec.md specifies
// this boundary only as an interface; this package supplies a
// file-backed default and a Postgres-backed alternative, grounded in
// the teacher's only SQL dependency (lib/pq) since its own schema
// (internal/db) has no home in this domain.
package settings

import (
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/value"
)

// Property is one named, typed settings entry for a plugin.
type Property struct {
	Name      string
	Kind      value.Kind
	Val       value.Value
	Transient bool
}

// Store is the settings-store boundary. Every method corresponds to
// one of spec.md §6.1's settings ABI entries
// (get/create/change/delete_plugin_settings_property,
// is/set_plugin_settings_property_transient,
// reload/save_plugin_settings).
type Store interface {
	Get(plugin hashkey.PluginID, name string) (Property, bool, error)
	Create(plugin hashkey.PluginID, prop Property) error
	Change(plugin hashkey.PluginID, name string, v value.Value) error
	Delete(plugin hashkey.PluginID, name string) error
	IsTransient(plugin hashkey.PluginID, name string) (bool, error)
	SetTransient(plugin hashkey.PluginID, name string, transient bool) error

	// Reload discards any in-memory cache and re-reads the backing
	// store for plugin, for settingssweep's periodic consistency pass
	// and for the explicit reload_plugin_settings ABI entry.
	Reload(plugin hashkey.PluginID) error

	// Save flushes plugin's current non-transient properties to the
	// backing store, for the explicit save_plugin_settings ABI entry.
	Save(plugin hashkey.PluginID) error

	// PluginIDs lists every plugin with at least one persisted
	// settings entry, for the sweep to iterate over.
	PluginIDs() []hashkey.PluginID
}
