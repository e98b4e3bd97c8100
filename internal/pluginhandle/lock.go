package pluginhandle

import (
	"sync"
	"sync/atomic"

	"github.com/streamspace/pulsehost/internal/hosterr"
)

// CooperativeLock is the per-plugin 32-bit cooperative latch of
// spec.md §4.3: the loader task acquires it before mutating the
// handle's maps and releases it before invoking the plugin's
// callbacks; plugin code may acquire it (via lock_plugin) to
// temporarily block loader mutations while it reads handle state.
//
// The lock is not reentrant: spec.md §5 forbids calling lock_plugin
// from inside the plugin's own Init/Update callback, since the
// loader already holds exclusive writer status for the duration of
// that callback. Go's sync.Mutex has no notion of "whose goroutine
// holds it" to detect that case by itself (unlike a reentrant mutex),
// so CooperativeLock tracks an explicit inCallback flag the loader
// sets for the callback's duration and LockFromPlugin consults before
// ever touching the underlying mutex — turning what would otherwise
// be a silent self-deadlock into an explicit rejected call.
type CooperativeLock struct {
	mu         sync.Mutex
	inCallback atomic.Bool
}

// AcquireWriter is called by the loader task before mutating
// properties, subscriptions, or state_ptr.
func (l *CooperativeLock) AcquireWriter() {
	l.mu.Lock()
}

// ReleaseWriter is called by the loader task after mutating, always
// before invoking the plugin's callback.
func (l *CooperativeLock) ReleaseWriter() {
	l.mu.Unlock()
}

// BeginCallback marks that the loader is about to call into the
// plugin's Init or Update. Must be called with the writer lock
// already released.
func (l *CooperativeLock) BeginCallback() {
	l.inCallback.Store(true)
}

// EndCallback clears the in-callback flag once the plugin callback
// returns (or panics and is recovered).
func (l *CooperativeLock) EndCallback() {
	l.inCallback.Store(false)
}

// LockFromPlugin implements the lock_plugin ABI entry point: plugin
// code calls this to prevent the loader from mutating the handle
// while it inspects state. Returns an error instead of deadlocking if
// called while the loader's own callback into this same plugin is on
// the stack.
func (l *CooperativeLock) LockFromPlugin() error {
	if l.inCallback.Load() {
		return hosterr.New(hosterr.NotImplemented, "lock_plugin called re-entrantly from within init/update")
	}
	l.mu.Lock()
	return nil
}

// UnlockFromPlugin implements unlock_plugin.
func (l *CooperativeLock) UnlockFromPlugin() {
	l.mu.Unlock()
}
