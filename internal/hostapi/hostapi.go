// Package hostapi is the host-exported API surface of spec.md §6.1:
// the ~40 entry points a plugin calls into the host through, each
// returning a hosterr.Error per spec.md §7's DataStoreReturnCode
// taxonomy. It is the single authorization boundary between a
// plugin's own Handle and everything else in the process — every
// create/update/get/subscribe/trigger call plugin code makes goes
// through a Context method here rather than touching messages,
// datastore, or another plugin's pluginhandle.Handle directly.
//
// Grounded in original_source/lib/src/api_func.rs: each method below
// mirrors one (or a small related group of) its functions, kept in
// the same order they appear there.
package hostapi

import (
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/streamspace/pulsehost/internal/datastore"
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hosterr"
	"github.com/streamspace/pulsehost/internal/logger"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/pluginhandle"
	"github.com/streamspace/pulsehost/internal/settings"
	"github.com/streamspace/pulsehost/internal/value"
)

// Context is the per-plugin handle to the host API: every method call
// is implicitly scoped to the plugin that owns handle, the same way
// every api_func.rs function takes a &PluginHandle as its first
// argument. A plugin never sees another plugin's Context.
type Context struct {
	handle   *pluginhandle.Handle
	ds       *datastore.DataStore
	settings settings.Store
	log      *zerolog.Logger
}

// New builds the Context a loader hands to plugin code. settingsStore
// may be nil; the settings-boundary methods then return NotImplemented,
// matching a host run without an external settings backend configured.
func New(handle *pluginhandle.Handle, ds *datastore.DataStore, settingsStore settings.Store) *Context {
	return &Context{
		handle:   handle,
		ds:       ds,
		settings: settingsStore,
		log:      logger.Loader(handle.Name),
	}
}

// --- properties ---

// GeneratePropertyHandle resolves a fully qualified "plugin.property"
// name into a PropertyHandle, per generate_property_handle.
func (c *Context) GeneratePropertyHandle(qualifiedName string) (hashkey.PropertyHandle, error) {
	h, ok := hashkey.NewPropertyHandle(qualifiedName)
	if !ok {
		return hashkey.PropertyHandle{}, hosterr.ParameterCorruptedf("%q is not a valid qualified property name", qualifiedName)
	}
	return h, nil
}

// CreateProperty implements create_property. name is the plugin's own
// short (unqualified) property name; handle must be the PropertyHandle
// the plugin itself generated for that same name. Both checks below
// run synchronously, before anything is ever enqueued on the loader's
// own inbox, so a caller gets an authoritative answer immediately
// rather than discovering the rejection later via a dropped message.
func (c *Context) CreateProperty(name string, handle hashkey.PropertyHandle, initial value.Value, allowModify bool) error {
	expected, ok := hashkey.PropertyHash(name)
	if !ok || expected != handle.Item {
		return hosterr.ParameterCorruptedf("property handle does not match hash of %q", name)
	}
	if handle.Plugin != c.handle.ID {
		return hosterr.NotAuthenticatedf("create_property called with a handle owned by a different plugin")
	}
	if _, exists := c.handle.GetProperty(handle.Item); exists {
		return hosterr.AlreadyExistsf("property %q already exists", name)
	}

	c.handle.Sender <- messages.LoaderMessage{
		Kind:     messages.MsgPropertyCreate,
		ItemHash: handle.Item,
		Property: messages.Property{
			ShortName:   name,
			Owner:       c.handle.ID,
			Kind:        initial.Kind(),
			Cell:        value.NewCellWith(initial),
			AllowModify: allowModify,
		},
	}
	return nil
}

// UpdateProperty implements update_property. It only ever consults
// handle.GetProperty, which is scoped to this plugin's own properties
// map — a subscribed (foreign) property is structurally unreachable
// here, never merely checked and rejected. A handle naming another
// plugin is refused as well, so an owned property whose item hash
// matches a foreign one is never written under the foreign handle.
// This is the owner-only-write boundary spec.md §3.4 requires;
// subscribers can only ever reach GetPropertyValue below.
func (c *Context) UpdateProperty(handle hashkey.PropertyHandle, v value.Value) error {
	prop, ok := c.handle.GetProperty(handle.Item)
	if !ok || handle.Plugin != c.handle.ID {
		return hosterr.DoesNotExistf("no owned property for handle")
	}
	if !prop.AllowModify {
		return hosterr.NotAuthenticatedf("property %q does not allow modification", prop.ShortName)
	}
	if !v.SameKind(prop.Cell.Read()) {
		return hosterr.TypeMismatchf("property %q is kind %s, got %s", prop.ShortName, prop.Kind, v.Kind())
	}
	if prop.Cell.Write(v) != value.WriteOk {
		return hosterr.TypeMismatchf("property %q write rejected", prop.ShortName)
	}
	c.ds.SetProperty(handle, prop.Cell, prop.ShortName)
	return nil
}

// GetPropertyValue implements get_property_value. A handle whose
// plugin is the caller is looked up only in the caller's own
// properties map; any other handle is looked up only in the read-only
// subscriptions map. Because the choice is made on the handle's plugin
// id, subscribing to your own properties is pointless: the owned
// branch always wins.
func (c *Context) GetPropertyValue(handle hashkey.PropertyHandle) (value.Value, error) {
	cell, err := c.resolveReadCell(handle)
	if err != nil {
		return value.None(), err
	}
	return cell.Read(), nil
}

// DeleteProperty implements delete_property.
func (c *Context) DeleteProperty(handle hashkey.PropertyHandle) error {
	if handle.Plugin != c.handle.ID {
		return hosterr.NotAuthenticatedf("delete_property called with a handle owned by a different plugin")
	}
	if _, ok := c.handle.GetProperty(handle.Item); !ok {
		return hosterr.DoesNotExistf("no owned property for handle")
	}
	c.handle.Sender <- messages.LoaderMessage{Kind: messages.MsgPropertyDelete, ItemHash: handle.Item}
	return nil
}

// ChangePropertyType implements change_property_type: it replaces the
// owned property's cell reference (a fresh Cell of newValue's kind)
// and fans the new reference out to every current subscriber.
func (c *Context) ChangePropertyType(handle hashkey.PropertyHandle, newValue value.Value, allowModify bool) error {
	if handle.Plugin != c.handle.ID {
		return hosterr.NotAuthenticatedf("change_property_type called with a handle owned by a different plugin")
	}
	if _, ok := c.handle.GetProperty(handle.Item); !ok {
		return hosterr.DoesNotExistf("no owned property for handle")
	}
	c.handle.Sender <- messages.LoaderMessage{
		Kind:        messages.MsgPropertyTypeChange,
		ItemHash:    handle.Item,
		NewCell:     value.NewCellWith(newValue),
		AllowModify: allowModify,
	}
	return nil
}

// SubscribeProperty implements subscribe_property: it kicks off the
// three-phase subscribe protocol (spec.md §4.4) and returns immediately
// without waiting for the subscription to land.
func (c *Context) SubscribeProperty(handle hashkey.PropertyHandle) error {
	c.handle.Sender <- messages.LoaderMessage{Kind: messages.MsgSubscribe, Handle: handle}
	return nil
}

// UnsubscribeProperty implements unsubscribe_property.
func (c *Context) UnsubscribeProperty(handle hashkey.PropertyHandle) error {
	c.handle.Sender <- messages.LoaderMessage{Kind: messages.MsgUnsubscribe, Handle: handle}
	return nil
}

// resolveReadCell is the read-only counterpart to UpdateProperty's
// owned-only lookup: it is the only place a foreign (subscribed) cell
// is ever handed back to calling code, and it is never used by any
// write path.
func (c *Context) resolveReadCell(handle hashkey.PropertyHandle) (*value.Cell, error) {
	if handle.Plugin == c.handle.ID {
		prop, ok := c.handle.GetProperty(handle.Item)
		if !ok {
			return nil, hosterr.DoesNotExistf("no owned property for handle")
		}
		return prop.Cell, nil
	}
	cell, ok := c.handle.GetSubscription(handle)
	if !ok {
		return nil, hosterr.DoesNotExistf("not subscribed to property")
	}
	return cell, nil
}

// --- arrays (spec.md §6.1's array entry points operate on the same
// PropertyHandle/Cell plumbing as scalars; there is no separate array
// handle type, see DESIGN.md) ---

// CreateArray implements create_array: a CreateProperty whose initial
// value is a zero-filled array of elemKind.
func (c *Context) CreateArray(name string, handle hashkey.PropertyHandle, elemKind value.Kind, length int, allowModify bool) error {
	return c.CreateProperty(name, handle, value.Array(elemKind, length), allowModify)
}

// GetArrayLength implements get_array_length.
func (c *Context) GetArrayLength(handle hashkey.PropertyHandle) (int, error) {
	cell, err := c.resolveReadCell(handle)
	if err != nil {
		return 0, err
	}
	if cell.Kind() != value.KindArray {
		return 0, hosterr.TypeMismatchf("property is not an array")
	}
	return cell.Len(), nil
}

// GetArrayType implements get_array_type.
func (c *Context) GetArrayType(handle hashkey.PropertyHandle) (value.Kind, error) {
	cell, err := c.resolveReadCell(handle)
	if err != nil {
		return value.KindNone, err
	}
	if cell.Kind() != value.KindArray {
		return value.KindNone, hosterr.TypeMismatchf("property is not an array")
	}
	return cell.ElemKind(), nil
}

// GetArrayValue implements get_array_value. An out-of-bounds index
// returns value.None() rather than an error, per spec.md boundary
// behavior #14 (Cell.GetElement's own contract).
func (c *Context) GetArrayValue(handle hashkey.PropertyHandle, index int) (value.Value, error) {
	cell, err := c.resolveReadCell(handle)
	if err != nil {
		return value.None(), err
	}
	if cell.Kind() != value.KindArray {
		return value.None(), hosterr.TypeMismatchf("property is not an array")
	}
	return cell.GetElement(index), nil
}

// SetArrayValue implements set_array_value. Like UpdateProperty, it
// only ever reaches through handle.GetProperty (owned properties): a
// subscriber holding a foreign array handle has no path to this
// method's write.
func (c *Context) SetArrayValue(handle hashkey.PropertyHandle, index int, v value.Value) error {
	prop, ok := c.handle.GetProperty(handle.Item)
	if !ok || handle.Plugin != c.handle.ID {
		return hosterr.DoesNotExistf("no owned property for handle")
	}
	if !prop.AllowModify {
		return hosterr.NotAuthenticatedf("property %q does not allow modification", prop.ShortName)
	}
	if prop.Cell.Kind() != value.KindArray {
		return hosterr.TypeMismatchf("property %q is not an array", prop.ShortName)
	}
	if prop.Cell.SetElement(index, v) != value.WriteOk {
		return hosterr.TypeMismatchf("array element write rejected at index %d", index)
	}
	c.ds.SetProperty(handle, prop.Cell, prop.ShortName)
	return nil
}

// --- events ---

// GenerateEventHandle implements generate_event_handle.
func (c *Context) GenerateEventHandle(qualifiedName string) (hashkey.EventHandle, error) {
	h, ok := hashkey.NewEventHandle(qualifiedName)
	if !ok {
		return hashkey.EventHandle{}, hosterr.ParameterCorruptedf("%q is not a valid qualified event name", qualifiedName)
	}
	return h, nil
}

// CreateEvent implements create_event.
func (c *Context) CreateEvent(handle hashkey.EventHandle) error {
	if handle.Plugin != c.handle.ID {
		return hosterr.NotAuthenticatedf("create_event called with a handle owned by a different plugin")
	}
	c.handle.EventChannel <- messages.EventMessage{Kind: messages.EvtCreate, Handle: handle, PluginID: c.handle.ID}
	return nil
}

// DeleteEvent implements delete_event.
func (c *Context) DeleteEvent(handle hashkey.EventHandle) error {
	if handle.Plugin != c.handle.ID {
		return hosterr.NotAuthenticatedf("delete_event called with a handle owned by a different plugin")
	}
	c.handle.EventChannel <- messages.EventMessage{Kind: messages.EvtRemove, Handle: handle}
	return nil
}

// SubscribeEvent implements subscribe_event. Unlike properties, events
// may be subscribed to before they exist (spec.md §4.5); the event
// task itself handles that ordering.
func (c *Context) SubscribeEvent(handle hashkey.EventHandle) error {
	c.handle.EventChannel <- messages.EventMessage{
		Kind:         messages.EvtSubscribe,
		Handle:       handle,
		SubscriberID: c.handle.ID,
		LoaderChan:   c.handle.Sender,
	}
	return nil
}

// UnsubscribeEvent implements unsubscribe_event.
func (c *Context) UnsubscribeEvent(handle hashkey.EventHandle) error {
	c.handle.EventChannel <- messages.EventMessage{
		Kind:         messages.EvtUnsubscribe,
		Handle:       handle,
		SubscriberID: c.handle.ID,
	}
	return nil
}

// TriggerEvent implements trigger_event. Only the owning plugin may
// trigger its own event.
func (c *Context) TriggerEvent(handle hashkey.EventHandle) error {
	if handle.Plugin != c.handle.ID {
		return hosterr.NotAuthenticatedf("trigger_event called with a handle owned by a different plugin")
	}
	c.handle.EventChannel <- messages.EventMessage{Kind: messages.EvtTrigger, Handle: handle}
	return nil
}

// --- actions ---

// GenerateActionHandle implements generate_action_handle.
func (c *Context) GenerateActionHandle(qualifiedName string) (hashkey.ActionHandle, error) {
	h, ok := hashkey.NewActionHandle(qualifiedName)
	if !ok {
		return hashkey.ActionHandle{}, hosterr.ParameterCorruptedf("%q is not a valid qualified action name", qualifiedName)
	}
	return h, nil
}

// TriggerAction implements trigger_action: a thin wrapper over
// DataStore.DispatchAction, which already allocates the id and enqueues
// the request on the target's loader.
func (c *Context) TriggerAction(target hashkey.ActionHandle, params []value.Value) (uint64, error) {
	return c.ds.DispatchAction(target.Plugin, c.handle.ID, uint64(target.Item), params)
}

// ActionCallback implements action_callback: it routes a response back
// to original's originating plugin, reusing original's action id.
func (c *Context) ActionCallback(original messages.Action, code uint64, params []value.Value) error {
	return c.ds.DispatchActionCallback(original.Origin, original, code, c.handle.ID, params)
}

// --- logging ---

// LogInfo implements log_info.
func (c *Context) LogInfo(msg string) { c.log.Info().Msg(msg) }

// LogError implements log_error.
func (c *Context) LogError(msg string) { c.log.Error().Msg(msg) }

// --- plugin-local state ---

// GetState implements get_state: it hands back the plugin's own opaque
// pointer, neither dereferenced nor copied.
func (c *Context) GetState() unsafe.Pointer { return c.handle.StatePtr }

// SaveStateNow implements save_state_now. It takes the cooperative lock
// for the duration of the store, so the loader's map-mutating handlers
// cannot run while StatePtr changes. Like LockPlugin, it returns an
// error while one of this plugin's Init/Update callbacks is running.
func (c *Context) SaveStateNow(ptr unsafe.Pointer) error {
	if err := c.handle.Lock.LockFromPlugin(); err != nil {
		return err
	}
	c.handle.StatePtr = ptr
	c.handle.Lock.UnlockFromPlugin()
	return nil
}

// LockPlugin implements lock_plugin.
func (c *Context) LockPlugin() error { return c.handle.Lock.LockFromPlugin() }

// UnlockPlugin implements unlock_plugin.
func (c *Context) UnlockPlugin() { c.handle.Lock.UnlockFromPlugin() }

// --- inter-plugin messaging ---

// SendPluginMessagePtr implements send_plugin_message_ptr: a raw
// pointer handoff to another plugin, routed by the datastore's plugin
// table. reason is an opaque, plugin-defined discriminator carried
// alongside the pointer.
func (c *Context) SendPluginMessagePtr(target hashkey.PluginID, ptr uintptr, reason int64) error {
	if !c.ds.SendToPlugin(target, messages.LoaderMessage{
		Kind:      messages.MsgPluginMessagePtr,
		PtrOrigin: c.handle.ID,
		Ptr:       ptr,
		Reason:    reason,
	}) {
		return hosterr.DoesNotExistf("unknown target plugin %v", target)
	}
	return nil
}

// --- settings boundary (spec.md §6.2/§6.1's settings entries) ---

func (c *Context) requireSettings() error {
	if c.settings == nil {
		return hosterr.NotImplementedf("no settings store configured for this host")
	}
	return nil
}

// GetPluginSettingsProperty implements get_plugin_settings_property.
func (c *Context) GetPluginSettingsProperty(name string) (value.Value, error) {
	if err := c.requireSettings(); err != nil {
		return value.None(), err
	}
	prop, ok, err := c.settings.Get(c.handle.ID, name)
	if err != nil {
		return value.None(), err
	}
	if !ok {
		return value.None(), hosterr.DoesNotExistf("settings property %q not found", name)
	}
	return prop.Val, nil
}

// CreatePluginSettingsProperty implements create_plugin_settings_property.
func (c *Context) CreatePluginSettingsProperty(name string, v value.Value, transient bool) error {
	if err := c.requireSettings(); err != nil {
		return err
	}
	return c.settings.Create(c.handle.ID, settings.Property{Name: name, Kind: v.Kind(), Val: v, Transient: transient})
}

// ChangePluginSettingsProperty implements change_plugin_settings_property.
func (c *Context) ChangePluginSettingsProperty(name string, v value.Value) error {
	if err := c.requireSettings(); err != nil {
		return err
	}
	return c.settings.Change(c.handle.ID, name, v)
}

// DeletePluginSettingsProperty implements delete_plugin_settings_property.
func (c *Context) DeletePluginSettingsProperty(name string) error {
	if err := c.requireSettings(); err != nil {
		return err
	}
	return c.settings.Delete(c.handle.ID, name)
}

// IsPluginSettingsPropertyTransient implements
// is_plugin_settings_property_transient.
func (c *Context) IsPluginSettingsPropertyTransient(name string) (bool, error) {
	if err := c.requireSettings(); err != nil {
		return false, err
	}
	return c.settings.IsTransient(c.handle.ID, name)
}

// SetPluginSettingsPropertyTransient implements
// set_plugin_settings_property_transient.
func (c *Context) SetPluginSettingsPropertyTransient(name string, transient bool) error {
	if err := c.requireSettings(); err != nil {
		return err
	}
	return c.settings.SetTransient(c.handle.ID, name, transient)
}

// ReloadPluginSettings implements reload_plugin_settings.
func (c *Context) ReloadPluginSettings() error {
	if err := c.requireSettings(); err != nil {
		return err
	}
	return c.settings.Reload(c.handle.ID)
}

// SavePluginSettings implements save_plugin_settings.
func (c *Context) SavePluginSettings() error {
	if err := c.requireSettings(); err != nil {
		return err
	}
	return c.settings.Save(c.handle.ID)
}
