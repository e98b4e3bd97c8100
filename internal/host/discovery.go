package host

import (
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/streamspace/pulsehost/internal/hosterr"
	"github.com/streamspace/pulsehost/internal/logger"
)

// Discovery scans for dynamic (.so) plugins and holds the builtin
// plugin registry. One instance per Runtime; not safe for concurrent
// discovery calls (mirrors the teacher's PluginDiscovery contract).
type Discovery struct {
	dirs     []string
	builtins map[string]Factory
	opened   map[string]*plugin.Plugin
}

// NewDiscovery creates a Discovery over the given plugin directories.
// With no directories given, it falls back to the same
// container/local/system-install search order as the teacher.
func NewDiscovery(dirs ...string) *Discovery {
	if len(dirs) == 0 {
		dirs = []string{
			"/plugins",
			"./plugins",
			"/usr/local/share/pulsehost/plugins",
		}
	}
	return &Discovery{
		dirs:     dirs,
		builtins: make(map[string]Factory),
		opened:   make(map[string]*plugin.Plugin),
	}
}

// RegisterBuiltin registers a first-party, in-process plugin factory
// under name, bypassing .so loading entirely (SPEC_FULL.md's
// supplemented builtin-plugin feature).
func (d *Discovery) RegisterBuiltin(name string, factory Factory) {
	d.builtins[name] = factory
	logger.Host().Info().Str("plugin", name).Msg("registered builtin plugin")
}

// IsBuiltin reports whether name is registered as a builtin.
func (d *Discovery) IsBuiltin(name string) bool {
	_, ok := d.builtins[name]
	return ok
}

// ListAll returns every discoverable plugin name: registered builtins
// plus every .so file found under the configured directories.
func (d *Discovery) ListAll() []string {
	names := make([]string, 0, len(d.builtins))
	for name := range d.builtins {
		names = append(names, name)
	}
	names = append(names, d.scanDynamic()...)
	return names
}

// Resolve produces a Descriptor for name: a builtin factory if
// registered, otherwise a dynamic .so opened (or reused from cache)
// and symbol-resolved into the four required entry points.
func (d *Discovery) Resolve(name string) (Descriptor, error) {
	if factory, ok := d.builtins[name]; ok {
		return factory(), nil
	}
	return d.resolveDynamic(name)
}

func (d *Discovery) scanDynamic() []string {
	var found []string
	for _, dir := range d.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil || info.IsDir() {
				return nil
			}
			if !strings.HasSuffix(info.Name(), ".so") {
				return nil
			}
			name := strings.TrimSuffix(info.Name(), ".so")
			found = append(found, name)
			return nil
		})
	}
	return found
}

func (d *Discovery) resolveDynamic(name string) (Descriptor, error) {
	path := d.findFile(name)
	if path == "" {
		return Descriptor{}, hosterr.DoesNotExistf("plugin %q not found in any configured directory", name)
	}

	p, ok := d.opened[name]
	if !ok {
		var err error
		p, err = plugin.Open(path)
		if err != nil {
			return Descriptor{}, hosterr.ParameterCorruptedf("opening plugin %q: %v", name, err)
		}
		d.opened[name] = p
	}

	return descriptorFromSymbols(p, name)
}

func (d *Discovery) findFile(name string) string {
	candidates := []string{name + ".so", "pulsehost-" + name + ".so", name + "_plugin.so"}
	for _, dir := range d.dirs {
		for _, filename := range candidates {
			if path := filepath.Join(dir, filename); fileExists(path) {
				return path
			}
			if path := filepath.Join(dir, name, filename); fileExists(path) {
				return path
			}
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// descriptorFromSymbols resolves the four required symbols
// (GetPluginDescription, FreeString, Init, Update) from an opened
// plugin.Plugin, matching spec.md §4.8 step 3. FreeString is looked
// up for ABI-shape fidelity but its result is discarded: a no-op on
// both sides of the Go plugin boundary, per SPEC_FULL.md.
func descriptorFromSymbols(p *plugin.Plugin, name string) (Descriptor, error) {
	describeSym, err := p.Lookup("GetPluginDescription")
	if err != nil {
		return Descriptor{}, errSymbolMissing(name, "GetPluginDescription", err)
	}
	describe, ok := describeSym.(func() PluginDescription)
	if !ok {
		return Descriptor{}, errSymbolShape(name, "GetPluginDescription")
	}

	if _, err := p.Lookup("FreeString"); err != nil {
		return Descriptor{}, errSymbolMissing(name, "FreeString", err)
	}

	initSym, err := p.Lookup("Init")
	if err != nil {
		return Descriptor{}, errSymbolMissing(name, "Init", err)
	}
	init, ok := initSym.(*InitFunc)
	if !ok || *init == nil {
		return Descriptor{}, errSymbolShape(name, "Init")
	}

	updateSym, err := p.Lookup("Update")
	if err != nil {
		return Descriptor{}, errSymbolMissing(name, "Update", err)
	}
	update, ok := updateSym.(*UpdateFunc)
	if !ok || *update == nil {
		return Descriptor{}, errSymbolShape(name, "Update")
	}

	return Descriptor{Describe: describe, Init: *init, Update: *update}, nil
}
