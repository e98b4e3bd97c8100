package host

import (
	"sync"
	"time"

	"github.com/streamspace/pulsehost/internal/datastore"
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hosterr"
	"github.com/streamspace/pulsehost/internal/loader"
	"github.com/streamspace/pulsehost/internal/logger"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/pluginhandle"
	"github.com/streamspace/pulsehost/internal/settings"
)

// loadedPlugin tracks what the Runtime needs to unload or reload a
// plugin it previously loaded.
type loadedPlugin struct {
	id      hashkey.PluginID
	version pluginhandle.Version
	loader  *loader.Loader
	inbox   messages.LoaderChan
}

// Runtime orchestrates discovery, loading, reloading, and unloading
// of plugins against a shared DataStore and event task, per spec.md
// §4.8. Adapted from the teacher's RuntimeV2 orchestrator, trimmed of
// the database-driven enable/disable bookkeeping and session event
// bus that have no analogue in this domain (see DESIGN.md) and
// restructured around the loader-task-per-plugin model instead of
// RuntimeV2's directly-invoked PluginHandler hooks.
type Runtime struct {
	discovery *Discovery
	ds        *datastore.DataStore
	events    messages.EventChan
	settings  settings.Store

	mu      sync.Mutex
	plugins map[string]*loadedPlugin
}

// NewRuntime constructs a Runtime over an already-wired DataStore and
// event task inbox.
func NewRuntime(discovery *Discovery, ds *datastore.DataStore, events messages.EventChan) *Runtime {
	return &Runtime{
		discovery: discovery,
		ds:        ds,
		events:    events,
		plugins:   make(map[string]*loadedPlugin),
	}
}

// Discovery exposes the underlying Discovery, e.g. for
// Discovery.RegisterBuiltin setup before Start.
func (r *Runtime) Discovery() *Discovery { return r.discovery }

// SetSettings attaches the settings store every loaded plugin's
// hostapi.Context is built with. Left unset (nil), the settings-facing
// API entries return NotImplemented rather than panicking.
func (r *Runtime) SetSettings(s settings.Store) { r.settings = s }

// LoadPluginByName implements spec.md §4.8's load sequence end to end:
// resolve the descriptor, validate identity/API version, construct
// and register the handle, spawn its loader task, and let it run Init
// and enter its loop.
func (r *Runtime) LoadPluginByName(name string) error {
	r.mu.Lock()
	if _, already := r.plugins[name]; already {
		r.mu.Unlock()
		return hosterr.AlreadyExistsf("plugin %q already loaded", name)
	}
	r.mu.Unlock()

	desc, err := r.discovery.Resolve(name)
	if err != nil {
		return err
	}

	info := desc.Describe()
	if err := validateDescription(info, name); err != nil {
		return err
	}

	inbox := make(messages.LoaderChan, 256)
	handle := pluginhandle.New(info.Name, info.ID, info.Version, inbox, r.events)
	l := loader.New(handle, r.ds, loader.Plugin{Init: desc.Init, Update: desc.Update}, inbox)
	l.Settings = r.settings

	r.mu.Lock()
	r.plugins[name] = &loadedPlugin{id: info.ID, version: info.Version, loader: l, inbox: inbox}
	r.mu.Unlock()

	go l.Run()

	logger.Host().Info().Str("plugin", name).Str("version", info.Version.String()).Msg("plugin load sequence started")
	return nil
}

// ReloadPlugin implements the hot-reload supplement: unload the
// currently loaded instance (if any) and wait until it has left the
// DataStore, resolve the candidate again, and load it, logging a
// warning if the new version is lower than the one it replaces.
func (r *Runtime) ReloadPlugin(name string) error {
	r.mu.Lock()
	previous, hadPrevious := r.plugins[name]
	r.mu.Unlock()

	if hadPrevious {
		if err := r.UnloadPlugin(name); err != nil {
			logger.Host().Warn().Str("plugin", name).Err(err).Msg("could not cleanly unload before reload")
		} else {
			for {
				if _, ok := r.ds.GetRecord(previous.id); !ok {
					break
				}
				time.Sleep(time.Millisecond)
			}
		}
	}

	if err := r.LoadPluginByName(name); err != nil {
		return err
	}

	if hadPrevious {
		r.mu.Lock()
		current := r.plugins[name]
		r.mu.Unlock()
		if current != nil && CompareVersion(current.version, previous.version) < 0 {
			logger.Host().Warn().
				Str("plugin", name).
				Str("previous_version", previous.version.String()).
				Str("new_version", current.version.String()).
				Msg("reloaded plugin is a version downgrade")
		}
	}
	return nil
}

// CompareVersion returns -1, 0, or 1 as a compares below, equal to, or
// above b, matching the original loader's downgrade-warning check
// (SPEC_FULL.md supplemented feature).
func CompareVersion(a, b pluginhandle.Version) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// UnloadPlugin broadcasts Shutdown to the named plugin's loader and
// forgets it. It does not wait for the loader goroutine to finish
// tearing down; callers needing that guarantee should poll
// DataStore.GetRecord for absence.
func (r *Runtime) UnloadPlugin(name string) error {
	r.mu.Lock()
	lp, ok := r.plugins[name]
	if !ok {
		r.mu.Unlock()
		return hosterr.DoesNotExistf("plugin %q is not loaded", name)
	}
	delete(r.plugins, name)
	r.mu.Unlock()

	lp.inbox <- messages.LoaderMessage{Kind: messages.MsgShutdown}
	return nil
}

// Start discovers and loads every plugin currently known to
// discovery (builtins plus filesystem-discovered .so files). Errors
// loading any single plugin are logged, not fatal to the others —
// mirroring spec.md §7's resilience stance ("one broken plugin
// doesn't prevent others from loading").
func (r *Runtime) Start() {
	for _, name := range r.discovery.ListAll() {
		if err := r.LoadPluginByName(name); err != nil {
			logger.Host().Error().Str("plugin", name).Err(err).Msg("failed to load plugin at startup")
		}
	}
}

// Stop broadcasts shutdown to the datastore (which fans out to every
// registered loader and the event task) and clears the Runtime's own
// bookkeeping.
func (r *Runtime) Stop() {
	r.ds.StartShutdown()
	r.mu.Lock()
	r.plugins = make(map[string]*loadedPlugin)
	r.mu.Unlock()
}

// ListLoaded returns the names of plugins this Runtime has loaded and
// not yet unloaded.
func (r *Runtime) ListLoaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}
