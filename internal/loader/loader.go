// Package loader implements the per-plugin Loader Task of spec.md
// §4.4: the single consumer of a plugin's inbox, the sole mutator of
// its pluginhandle.Handle, and the state machine driving a plugin
// from Load through Registering, Initing, Running, to Dead.
//
// Grounded in the teacher's internal/plugins/runtime_v2.go lifecycle
// orchestration (load/init/run/unload sequencing and logging idiom),
// restructured around a single-goroutine-per-plugin, channel-driven
// loop instead of RuntimeV2's directly-called methods, since spec.md
// requires each plugin's handle to have exactly one writer goroutine.
package loader

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/streamspace/pulsehost/internal/datastore"
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/hostapi"
	"github.com/streamspace/pulsehost/internal/logger"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/pluginhandle"
	"github.com/streamspace/pulsehost/internal/settings"
)

// State is the loader task's own lifecycle state machine, a
// finer-grained superset of pluginhandle.Status.
type State int32

const (
	StateLoad State = iota
	StateRegistering
	StateIniting
	StateRunning
	StateDead
)

func (s State) String() string {
	switch s {
	case StateLoad:
		return "Load"
	case StateRegistering:
		return "Registering"
	case StateIniting:
		return "Initing"
	case StateRunning:
		return "Running"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Plugin is the host-side view of a loaded plugin's callbacks,
// resolved from its four required ABI symbols (see package host).
type Plugin struct {
	Init   func(c *hostapi.Context) int32
	Update func(c *hostapi.Context, msg messages.HostMessage) int32
}

// Loader drives one plugin's handle and inbox.
type Loader struct {
	Handle *pluginhandle.Handle
	DS     *datastore.DataStore
	Plugin Plugin

	// Settings is the settings store new plugin Contexts are built
	// with; nil is valid (the settings-facing API entries then return
	// NotImplemented). Callers must set this, if at all, before Run.
	Settings settings.Store

	inbox messages.LoaderChan
	ctx   *hostapi.Context
	state atomic.Int32

	// safeShutdown is set to false if the loop exits other than via a
	// clean Shutdown with no outstanding plugin misbehavior; it
	// governs whether DeletePlugin releases or leaks the handle, per
	// spec.md §4.8.
	safeShutdown atomic.Bool
}

// New constructs a Loader in StateLoad. inbox is the channel also
// installed as handle.Sender; callers typically create both together
// via host.Runtime.LoadPluginByName.
func New(handle *pluginhandle.Handle, ds *datastore.DataStore, plugin Plugin, inbox messages.LoaderChan) *Loader {
	l := &Loader{Handle: handle, DS: ds, Plugin: plugin, inbox: inbox}
	l.state.Store(int32(StateLoad))
	l.safeShutdown.Store(true)
	return l
}

func (l *Loader) State() State { return State(l.state.Load()) }

func (l *Loader) setState(s State) { l.state.Store(int32(s)) }

// Inbox exposes the loader's channel, e.g. for host.Runtime to
// hand it to other loaders/event task as a sender.
func (l *Loader) Inbox() messages.LoaderChan { return l.inbox }

// Run executes the full lifecycle: registers with the datastore,
// calls Init, then drains the inbox until Shutdown or a fatal
// callback result. Intended to run in its own goroutine, one per
// plugin.
func (l *Loader) Run() {
	log := logger.Loader(l.Handle.Name)
	l.setState(StateRegistering)

	if err := l.DS.RegisterPlugin(l.Handle.ID, l.inbox, l.Handle); err != nil {
		log.Error().Err(err).Msg("plugin registration failed")
		l.setState(StateDead)
		return
	}

	l.ctx = hostapi.New(l.Handle, l.DS, l.Settings)

	l.setState(StateIniting)
	l.Handle.Lock.BeginCallback()
	rc := l.safeInit(log)
	l.Handle.Lock.EndCallback()
	if rc != 0 {
		log.Error().Int32("rc", rc).Msg("plugin init failed")
		l.setState(StateDead)
		l.safeShutdown.Store(false)
		l.Handle.SetStatus(pluginhandle.StatusDead)
		l.DS.DeletePlugin(l.Handle.ID, l.safeShutdown.Load())
		return
	}

	l.Handle.SetStatus(pluginhandle.StatusRunning)
	l.setState(StateRunning)
	l.DS.SetPluginReady(l.Handle.ID)

	l.inbox <- messages.LoaderMessage{Kind: messages.MsgStartupFinished}

	l.loop(log)

	l.setState(StateDead)
	l.Handle.SetStatus(pluginhandle.StatusDead)
	l.DS.DeletePlugin(l.Handle.ID, l.safeShutdown.Load())
}

// loop is the core message pump. Every branch that mutates the
// handle's maps acquires the writer lock before touching them and
// releases it before invoking the plugin callback, per spec.md §4.4's
// lock-discipline invariants.
func (l *Loader) loop(log *zerolog.Logger) {
	for msg := range l.inbox {
		switch msg.Kind {
		case messages.MsgPropertyCreate:
			l.handlePropertyCreate(msg, log)
		case messages.MsgPropertyDelete:
			l.handlePropertyDelete(msg)
		case messages.MsgPropertyTypeChange:
			l.handlePropertyTypeChange(msg, log)
		case messages.MsgSubscribe:
			l.handleSubscribe(msg)
		case messages.MsgGenerateSubscription:
			l.handleGenerateSubscription(msg)
		case messages.MsgUpdateSubscription:
			l.handleUpdateSubscription(msg)
		case messages.MsgUnsubscribe:
			l.handleUnsubscribe(msg)
		case messages.MsgHasUnsubscribed:
			l.handleHasUnsubscribed(msg)
		case messages.MsgSendPluginMessagePtr:
			l.handleSendPluginMessagePtr(msg)
		case messages.MsgInternalMessage:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostInternalMessage, InternalPayload: msg.InternalPayload}, log)
		case messages.MsgPluginMessagePtr:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostPluginMessagePtr, PtrOrigin: msg.PtrOrigin, Ptr: msg.Ptr, Reason: msg.Reason}, log)
		case messages.MsgOtherPluginStarted:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostOtherPluginStarted, OtherPlugin: msg.OtherPlugin}, log)
		case messages.MsgEventTriggered:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostEventTriggered, EventHandle: msg.EventHandle}, log)
		case messages.MsgEventUnsubscribed:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostEventUnsubscribed, EventHandle: msg.EventHandle}, log)
		case messages.MsgAction:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostAction, Action: msg.Action}, log)
		case messages.MsgActionCallback:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostActionCallback, Action: msg.Action}, log)
		case messages.MsgStartupFinished:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostStartupFinished}, log)
		case messages.MsgShutdown:
			l.dispatchToPlugin(messages.HostMessage{Kind: messages.HostShutdown}, log)
			return
		}
		if l.State() == StateDead {
			return
		}
	}
}

// --- property handlers ---

func (l *Loader) handlePropertyCreate(msg messages.LoaderMessage, log *zerolog.Logger) {
	l.Handle.Lock.AcquireWriter()
	if _, exists := l.Handle.GetProperty(msg.ItemHash); exists {
		l.Handle.Lock.ReleaseWriter()
		log.Warn().Msg("property already exists")
		return
	}
	l.Handle.PutProperty(msg.ItemHash, msg.Property)
	h := hashkey.PropertyHandle{Plugin: l.Handle.ID, Item: msg.ItemHash}
	l.Handle.Lock.ReleaseWriter()

	l.DS.SetProperty(h, msg.Property.Cell, msg.Property.ShortName)
}

func (l *Loader) handlePropertyDelete(msg messages.LoaderMessage) {
	l.Handle.Lock.AcquireWriter()
	subs := l.Handle.SubscribersOf(msg.ItemHash)
	l.Handle.RemoveProperty(msg.ItemHash)
	h := hashkey.PropertyHandle{Plugin: l.Handle.ID, Item: msg.ItemHash}
	l.Handle.ClearSubscribers(msg.ItemHash)
	l.Handle.Lock.ReleaseWriter()

	l.DS.DeleteProperty(h)
	for _, ch := range subs {
		ch <- messages.LoaderMessage{Kind: messages.MsgUnsubscribe, Handle: h}
	}
}

func (l *Loader) handlePropertyTypeChange(msg messages.LoaderMessage, log *zerolog.Logger) {
	l.Handle.Lock.AcquireWriter()
	p, ok := l.Handle.GetProperty(msg.ItemHash)
	if !ok {
		l.Handle.Lock.ReleaseWriter()
		log.Warn().Msg("type change on unknown property")
		return
	}
	p.Cell = msg.NewCell
	p.AllowModify = msg.AllowModify
	l.Handle.PutProperty(msg.ItemHash, p)
	h := hashkey.PropertyHandle{Plugin: l.Handle.ID, Item: msg.ItemHash}
	subs := l.Handle.SubscribersOf(msg.ItemHash)
	l.Handle.Lock.ReleaseWriter()

	l.DS.SetProperty(h, msg.NewCell, p.ShortName)
	for _, ch := range subs {
		ch <- messages.LoaderMessage{Kind: messages.MsgUpdateSubscription, Handle: h, NewCell: msg.NewCell}
	}
}

// --- subscription protocol (three-phase: subscriber -> owner -> subscriber) ---

func (l *Loader) handleSubscribe(msg messages.LoaderMessage) {
	rec, ok := l.DS.GetRecord(msg.Handle.Plugin)
	if !ok {
		return
	}
	rec.Loader <- messages.LoaderMessage{
		Kind:        messages.MsgGenerateSubscription,
		RequesterID: l.Handle.ID,
		Handle:      msg.Handle,
	}
}

func (l *Loader) handleGenerateSubscription(msg messages.LoaderMessage) {
	l.Handle.Lock.AcquireWriter()
	p, ok := l.Handle.GetProperty(msg.Handle.Item)
	l.Handle.Lock.ReleaseWriter()
	if !ok {
		return
	}

	requesterRec, ok := l.DS.GetRecord(msg.RequesterID)
	if !ok {
		return
	}

	l.Handle.Lock.AcquireWriter()
	l.Handle.AddSubscriber(msg.Handle.Item, msg.RequesterID, requesterRec.Loader)
	l.Handle.Lock.ReleaseWriter()

	requesterRec.Loader <- messages.LoaderMessage{
		Kind:    messages.MsgUpdateSubscription,
		Handle:  msg.Handle,
		NewCell: p.Cell.ShallowClone(),
	}
}

func (l *Loader) handleUpdateSubscription(msg messages.LoaderMessage) {
	l.Handle.Lock.AcquireWriter()
	l.Handle.PutSubscription(msg.Handle, msg.NewCell)
	l.Handle.Lock.ReleaseWriter()
}

func (l *Loader) handleUnsubscribe(msg messages.LoaderMessage) {
	l.Handle.Lock.AcquireWriter()
	l.Handle.RemoveSubscription(msg.Handle)
	l.Handle.Lock.ReleaseWriter()

	ownerRec, ok := l.DS.GetRecord(msg.Handle.Plugin)
	if !ok {
		return
	}
	ownerRec.Loader <- messages.LoaderMessage{
		Kind:         messages.MsgHasUnsubscribed,
		SubscriberID: l.Handle.ID,
		Handle:       msg.Handle,
	}
}

func (l *Loader) handleHasUnsubscribed(msg messages.LoaderMessage) {
	l.Handle.Lock.AcquireWriter()
	l.Handle.RemoveSubscriber(msg.Handle.Item, msg.SubscriberID)
	l.Handle.Lock.ReleaseWriter()
}

func (l *Loader) handleSendPluginMessagePtr(msg messages.LoaderMessage) {
	rec, ok := l.DS.GetRecord(msg.Target)
	if !ok {
		return
	}
	rec.Loader <- messages.LoaderMessage{
		Kind:      messages.MsgPluginMessagePtr,
		PtrOrigin: l.Handle.ID,
		Ptr:       msg.Ptr,
		Reason:    msg.Reason,
	}
}

// dispatchToPlugin ensures the handle is unlocked, then calls Update
// outside the writer lock. A non-zero return, or a recovered panic,
// is fatal for this plugin per spec.md §4.4/§7.
func (l *Loader) dispatchToPlugin(hm messages.HostMessage, log *zerolog.Logger) {
	l.Handle.Lock.BeginCallback()
	defer l.Handle.Lock.EndCallback()

	rc := l.safeUpdate(hm, log)
	if rc != 0 {
		log.Error().Int32("rc", rc).Msg("plugin update returned non-zero, terminating plugin")
		l.safeShutdown.Store(false)
		l.setState(StateDead)
	}
}

func (l *Loader) safeUpdate(hm messages.HostMessage, log *zerolog.Logger) (rc int32) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("plugin update panicked, terminating plugin")
			l.safeShutdown.Store(false)
			rc = 1
		}
	}()
	return l.Plugin.Update(l.ctx, hm)
}

func (l *Loader) safeInit(log *zerolog.Logger) (rc int32) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("plugin init panicked")
			l.safeShutdown.Store(false)
			rc = 1
		}
	}()
	return l.Plugin.Init(l.ctx)
}
