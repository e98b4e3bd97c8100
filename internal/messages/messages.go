// Package messages defines the wire types exchanged between loader
// tasks, the event task, and the DataStore. Keeping these in their
// own package (rather than on loader/eventtask/pluginhandle directly)
// lets pluginhandle.Handle hold a channel of LoaderMessage without an
// import cycle back into the loader package that drains it.
package messages

import (
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/value"
)

// LoaderChan is the inbound channel type every loader task owns.
type LoaderChan chan LoaderMessage

// EventChan is the inbound channel type the single event task owns.
type EventChan chan EventMessage

// LoaderMessageKind discriminates the LoaderMessage union.
type LoaderMessageKind int

const (
	MsgPropertyCreate LoaderMessageKind = iota
	MsgPropertyDelete
	MsgPropertyTypeChange
	MsgSubscribe
	MsgGenerateSubscription
	MsgUpdateSubscription
	MsgUnsubscribe
	MsgHasUnsubscribed
	MsgInternalMessage
	MsgPluginMessagePtr
	MsgSendPluginMessagePtr
	MsgOtherPluginStarted
	MsgEventTriggered
	MsgEventUnsubscribed
	MsgAction
	MsgActionCallback
	MsgStartupFinished
	MsgShutdown
)

// Property is the payload carried by PropertyCreate; it mirrors
// property.Property but lives here to avoid a property<->messages
// import cycle (property.Property references value.Cell, which this
// package also needs for subscription payloads).
type Property struct {
	ShortName   string
	Owner       hashkey.PluginID
	Kind        value.Kind
	Cell        *value.Cell
	AllowModify bool
}

// Action carries request/response action invocation data, per
// spec.md §4.6.
type Action struct {
	ActionCode uint64 // item hash for requests; 0 for success callbacks
	Origin     hashkey.PluginID
	ID         uint64
	Params     []value.Value
}

// LoaderMessage is the discriminated union a loader task's inbox
// carries, per spec.md §4.4's message table.
type LoaderMessage struct {
	Kind LoaderMessageKind

	ItemHash    hashkey.ItemHash
	Property    Property
	NewCell     *value.Cell
	AllowModify bool

	Handle          hashkey.PropertyHandle
	RequesterID     hashkey.PluginID
	SubscriberID    hashkey.PluginID
	Cell            *value.Cell

	InternalPayload int64

	PtrOrigin hashkey.PluginID
	Ptr       uintptr
	Reason    int64
	Target    hashkey.PluginID

	OtherPlugin hashkey.PluginID

	EventHandle hashkey.EventHandle

	Action Action
}

// EventMessageKind discriminates the EventMessage union.
type EventMessageKind int

const (
	EvtCreate EventMessageKind = iota
	EvtRemove
	EvtSubscribe
	EvtUnsubscribe
	EvtTrigger
	EvtRemovePlugin
	EvtShutdown
)

// EventMessage is the single event task's inbox message type, per
// spec.md §4.5.
type EventMessage struct {
	Kind EventMessageKind

	Handle       hashkey.EventHandle
	SubscriberID hashkey.PluginID
	LoaderChan   LoaderChan

	PluginID hashkey.PluginID
}

// HostMessageKind discriminates the HostMessage union passed to a
// plugin's Update callback, per spec.md §4.4's pass-through row.
type HostMessageKind int

const (
	HostInternalMessage HostMessageKind = iota
	HostPluginMessagePtr
	HostOtherPluginStarted
	HostEventTriggered
	HostEventUnsubscribed
	HostAction
	HostActionCallback
	HostStartupFinished
	HostShutdown
)

// HostMessage is what the loader hands to the plugin's Update
// callback. These LoaderMessage kinds are passed through unchanged
// (after ensuring the handle is unlocked), so HostMessage is a
// deliberately narrower projection of LoaderMessage carrying only the
// fields relevant to the plugin-facing contract.
type HostMessage struct {
	Kind HostMessageKind

	InternalPayload int64

	PtrOrigin hashkey.PluginID
	Ptr       uintptr
	Reason    int64

	OtherPlugin hashkey.PluginID

	EventHandle hashkey.EventHandle

	Action Action
}
