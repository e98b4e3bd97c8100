// Package eventtask implements the single, inbox-owning Event Task
// of spec.md §4.5: the event-subscription table and the
// Create/Remove/Subscribe/Unsubscribe/Trigger/RemovePlugin/Shutdown
// message protocol. Adapted from the teacher's
// internal/plugins/event_bus.go namespaced pub-sub, restructured into
// a single-task/channel-owned design since this spec requires strict
// per-producer FIFO ordering that a directly-called, lock-based
// EventBus.Emit cannot guarantee across goroutines the way a single
// consuming task can.
package eventtask

import (
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/logger"
	"github.com/streamspace/pulsehost/internal/messages"
)

type entry struct {
	created     bool
	owner       hashkey.PluginID
	subscribers map[hashkey.PluginID]messages.LoaderChan
}

// Task is the single event task. Only Run's goroutine ever touches
// events; every other caller communicates through Inbox.
type Task struct {
	Inbox  messages.EventChan
	events map[hashkey.EventHandle]*entry
	done   chan struct{}
}

// New creates a Task with a buffered inbox and starts no goroutine;
// call Run to start processing.
func New(bufferSize int) *Task {
	return &Task{
		Inbox:  make(messages.EventChan, bufferSize),
		events: make(map[hashkey.EventHandle]*entry),
		done:   make(chan struct{}),
	}
}

// Done is closed once Run returns (after processing Shutdown).
func (t *Task) Done() <-chan struct{} { return t.done }

// Run drains Inbox until it receives Shutdown, processing messages in
// strict receive order. Intended to be run in its own goroutine.
func (t *Task) Run() {
	defer close(t.done)
	log := logger.EventTask()
	for msg := range t.Inbox {
		switch msg.Kind {
		case messages.EvtCreate:
			t.handleCreate(msg)
		case messages.EvtRemove:
			t.handleRemove(msg)
		case messages.EvtSubscribe:
			t.handleSubscribe(msg)
		case messages.EvtUnsubscribe:
			t.handleUnsubscribe(msg)
		case messages.EvtTrigger:
			t.handleTrigger(msg)
		case messages.EvtRemovePlugin:
			t.handleRemovePlugin(msg)
		case messages.EvtShutdown:
			log.Info().Msg("event task shutting down")
			return
		default:
			log.Warn().Int("kind", int(msg.Kind)).Msg("unknown event message kind")
		}
	}
}

func (t *Task) handleCreate(msg messages.EventMessage) {
	e, ok := t.events[msg.Handle]
	if !ok {
		e = &entry{subscribers: make(map[hashkey.PluginID]messages.LoaderChan)}
		t.events[msg.Handle] = e
	}
	e.created = true
	e.owner = msg.PluginID
}

func (t *Task) handleRemove(msg messages.EventMessage) {
	e, ok := t.events[msg.Handle]
	if !ok {
		return
	}
	for _, ch := range e.subscribers {
		ch <- messages.LoaderMessage{Kind: messages.MsgEventUnsubscribed, EventHandle: msg.Handle}
	}
	delete(t.events, msg.Handle)
}

func (t *Task) handleSubscribe(msg messages.EventMessage) {
	e, ok := t.events[msg.Handle]
	if !ok {
		// Allowed before Create: pre-subscribers remain once Create arrives.
		e = &entry{subscribers: make(map[hashkey.PluginID]messages.LoaderChan)}
		t.events[msg.Handle] = e
	}
	e.subscribers[msg.SubscriberID] = msg.LoaderChan
}

func (t *Task) handleUnsubscribe(msg messages.EventMessage) {
	e, ok := t.events[msg.Handle]
	if !ok {
		return
	}
	ch, ok := e.subscribers[msg.SubscriberID]
	if !ok {
		return
	}
	delete(e.subscribers, msg.SubscriberID)
	ch <- messages.LoaderMessage{Kind: messages.MsgEventUnsubscribed, EventHandle: msg.Handle}
}

func (t *Task) handleTrigger(msg messages.EventMessage) {
	e, ok := t.events[msg.Handle]
	if !ok {
		// Silently dropped, per spec.md §4.5.
		return
	}
	for _, ch := range e.subscribers {
		ch <- messages.LoaderMessage{Kind: messages.MsgEventTriggered, EventHandle: msg.Handle}
	}
}

func (t *Task) handleRemovePlugin(msg messages.EventMessage) {
	pid := msg.PluginID
	var ownedByPID []hashkey.EventHandle
	for h, e := range t.events {
		if e.owner == pid {
			ownedByPID = append(ownedByPID, h)
			continue
		}
		if _, subscribed := e.subscribers[pid]; subscribed {
			// No notification: the plugin is already gone.
			delete(e.subscribers, pid)
		}
	}
	for _, h := range ownedByPID {
		e := t.events[h]
		for _, ch := range e.subscribers {
			ch <- messages.LoaderMessage{Kind: messages.MsgEventUnsubscribed, EventHandle: h}
		}
		delete(t.events, h)
	}
}
