package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hosterr"
	"github.com/streamspace/pulsehost/internal/value"
)

// fileProperty is the on-disk shape of one settings entry; value.Value
// itself has no exported fields to marshal, so FileStore persists a
// kind tag plus the one field relevant to that kind.
type fileProperty struct {
	Name      string `json:"name"`
	Kind      int    `json:"kind"`
	Int       int64  `json:"int,omitempty"`
	Float     float64 `json:"float,omitempty"`
	Bool      bool   `json:"bool,omitempty"`
	Str       string `json:"str,omitempty"`
	Transient bool   `json:"transient"`
}

// FileStore persists each plugin's non-transient settings as a JSON
// file named by its plugin id under dir. It is the default settings
// store: no external database dependency, matching the per-host
// settings file spec.md §6.2 describes.
type FileStore struct {
	dir string

	mu   sync.Mutex
	data map[hashkey.PluginID]map[string]Property
}

// NewFileStore creates a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}
	return &FileStore{dir: dir, data: make(map[hashkey.PluginID]map[string]Property)}, nil
}

func (f *FileStore) path(plugin hashkey.PluginID) string {
	return filepath.Join(f.dir, fmt.Sprintf("%016x.json", uint64(plugin)))
}

func (f *FileStore) Get(plugin hashkey.PluginID, name string) (Property, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.data[plugin][name]
	return p, ok, nil
}

func (f *FileStore) Create(plugin hashkey.PluginID, prop Property) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.data[plugin]
	if !ok {
		m = make(map[string]Property)
		f.data[plugin] = m
	}
	if _, exists := m[prop.Name]; exists {
		return hosterr.AlreadyExistsf("settings property %q already exists for plugin", prop.Name)
	}
	m[prop.Name] = prop
	return nil
}

func (f *FileStore) Change(plugin hashkey.PluginID, name string, v value.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.data[plugin]
	if !ok {
		return hosterr.DoesNotExistf("plugin %v has no settings", plugin)
	}
	p, ok := m[name]
	if !ok {
		return hosterr.DoesNotExistf("settings property %q not found", name)
	}
	if !p.Val.SameKind(v) {
		return hosterr.TypeMismatchf("settings property %q kind mismatch", name)
	}
	p.Val = v
	m[name] = p
	return nil
}

func (f *FileStore) Delete(plugin hashkey.PluginID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data[plugin], name)
	return nil
}

func (f *FileStore) IsTransient(plugin hashkey.PluginID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.data[plugin][name]
	if !ok {
		return false, hosterr.DoesNotExistf("settings property %q not found", name)
	}
	return p.Transient, nil
}

func (f *FileStore) SetTransient(plugin hashkey.PluginID, name string, transient bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.data[plugin]
	if !ok {
		return hosterr.DoesNotExistf("plugin %v has no settings", plugin)
	}
	p, ok := m[name]
	if !ok {
		return hosterr.DoesNotExistf("settings property %q not found", name)
	}
	p.Transient = transient
	m[name] = p
	return nil
}

// Reload re-reads plugin's settings file from disk, replacing any
// in-memory state for it.
func (f *FileStore) Reload(plugin hashkey.PluginID) error {
	raw, err := os.ReadFile(f.path(plugin))
	if os.IsNotExist(err) {
		f.mu.Lock()
		delete(f.data, plugin)
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading settings file: %w", err)
	}

	var onDisk []fileProperty
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return hosterr.DataCorruptedf("settings file for plugin %v is corrupt: %v", plugin, err)
	}

	m := make(map[string]Property, len(onDisk))
	for _, fp := range onDisk {
		m[fp.Name] = Property{Name: fp.Name, Kind: value.Kind(fp.Kind), Val: toValue(fp), Transient: fp.Transient}
	}

	f.mu.Lock()
	f.data[plugin] = m
	f.mu.Unlock()
	return nil
}

// Save writes plugin's current non-transient properties to disk.
func (f *FileStore) Save(plugin hashkey.PluginID) error {
	f.mu.Lock()
	m := f.data[plugin]
	onDisk := make([]fileProperty, 0, len(m))
	for _, p := range m {
		if p.Transient {
			continue
		}
		onDisk = append(onDisk, fromValue(p))
	}
	f.mu.Unlock()

	raw, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	return os.WriteFile(f.path(plugin), raw, 0o644)
}

// PluginIDs lists the plugin ids that have a settings file under dir.
func (f *FileStore) PluginIDs() []hashkey.PluginID {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil
	}
	ids := make([]hashkey.PluginID, 0, len(entries))
	for _, e := range entries {
		var id uint64
		if e.IsDir() || len(e.Name()) != len("0000000000000000.json") {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "%016x.json", &id); err == nil {
			ids = append(ids, hashkey.PluginID(id))
		}
	}
	return ids
}

func toValue(fp fileProperty) value.Value {
	switch value.Kind(fp.Kind) {
	case value.KindInt:
		return value.Int(fp.Int)
	case value.KindFloat:
		return value.Float(fp.Float)
	case value.KindBool:
		return value.Bool(fp.Bool)
	case value.KindString:
		return value.Str(fp.Str)
	default:
		return value.None()
	}
}

func fromValue(p Property) fileProperty {
	fp := fileProperty{Name: p.Name, Kind: int(p.Kind), Transient: p.Transient}
	switch p.Kind {
	case value.KindInt:
		fp.Int, _ = p.Val.Int()
	case value.KindFloat:
		fp.Float, _ = p.Val.Float()
	case value.KindBool:
		fp.Bool, _ = p.Val.Bool()
	case value.KindString:
		fp.Str, _ = p.Val.String()
	}
	return fp
}
