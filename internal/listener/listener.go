// Package listener normalizes provider events into the bridge's outbound
// event set and binds the provider subscription to the bridge lifecycle.
//
// An Adapter is either Unsubscribed or Subscribed. Each Subscribe creates a
// fresh Registration; events delivered through an older registration are
// discarded, so nothing from a torn-down subscription reaches the host.
package listener

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/protocol"
	"github.com/zlc_ai/messaging-bridge/internal/provider"
)

// ErrAlreadySubscribed is returned by Subscribe while a registration is active.
var ErrAlreadySubscribed = errors.New("event listener already subscribed")

// State is the subscription state.
type State int

const (
	Unsubscribed State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// Executor schedules work on the execution context that owns the adapter.
type Executor interface {
	Post(fn func()) error
}

// Sink receives normalized outbound events.
type Sink interface {
	Emit(event *protocol.Event)
}

// CountFunc returns the current unread count. It must not fail.
type CountFunc func() int

// Adapter is the event listener adapter.
//
// Subscribe, Unsubscribe and State must be called on the executor. Events may
// arrive on any goroutine.
type Adapter struct {
	provider provider.Provider
	exec     Executor
	sink     Sink
	count    CountFunc
	logger   *zap.Logger

	active  *Registration
	dropped atomic.Int64
}

// New creates an unsubscribed adapter.
func New(p provider.Provider, exec Executor, sink Sink, count CountFunc, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		provider: p,
		exec:     exec,
		sink:     sink,
		count:    count,
		logger:   logger.Named("listener"),
	}
}

// Registration is one provider subscription. It is the provider.Listener
// handed to AddEventListener.
type Registration struct {
	id      string
	adapter *Adapter
}

// ID returns the registration identifier.
func (r *Registration) ID() string { return r.id }

// OnEvent hands the event to the adapter's executor.
func (r *Registration) OnEvent(event provider.Event) {
	if err := r.adapter.exec.Post(func() { r.adapter.deliver(r, event) }); err != nil {
		r.adapter.dropped.Add(1)
		r.adapter.logger.Warn("Provider event dropped, executor unavailable",
			zap.String("registration", r.id),
			zap.Stringer("kind", event.Kind),
			zap.Error(err))
	}
}

// Subscribe registers a new listener with the provider. The adapter stays
// Unsubscribed when the provider fails to register it.
func (a *Adapter) Subscribe() (*Registration, error) {
	if a.active != nil {
		return nil, ErrAlreadySubscribed
	}
	reg := &Registration{id: uuid.New().String(), adapter: a}
	if err := provider.Guard("addEventListener", func() error {
		a.provider.AddEventListener(reg)
		return nil
	}); err != nil {
		return nil, err
	}
	a.active = reg
	a.logger.Info("Event listener subscribed", zap.String("registration", reg.id))
	return reg, nil
}

// Unsubscribe removes the active registration. It reports false when there
// was none. The adapter is Unsubscribed afterwards even if the provider
// failed to remove the registration; that failure is returned.
func (a *Adapter) Unsubscribe() (bool, error) {
	reg := a.active
	if reg == nil {
		return false, nil
	}
	a.active = nil
	err := provider.Guard("removeEventListener", func() error {
		a.provider.RemoveEventListener(reg)
		return nil
	})
	a.logger.Info("Event listener unsubscribed", zap.String("registration", reg.id))
	return true, err
}

// State returns the subscription state.
func (a *Adapter) State() State {
	if a.active != nil {
		return Subscribed
	}
	return Unsubscribed
}

// Active returns the active registration, or nil.
func (a *Adapter) Active() *Registration {
	return a.active
}

// Dropped returns the number of provider events discarded because they
// arrived outside an active registration.
func (a *Adapter) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Adapter) deliver(reg *Registration, event provider.Event) {
	if reg != a.active {
		a.dropped.Add(1)
		a.logger.Debug("Discarding event from inactive registration",
			zap.String("registration", reg.id),
			zap.Stringer("kind", event.Kind))
		return
	}
	a.sink.Emit(Normalize(event, a.count))
}

// Normalize maps a provider event onto exactly one outbound event.
func Normalize(event provider.Event, count CountFunc) *protocol.Event {
	switch event.Kind {
	case provider.EventUnreadMessageCountChanged:
		n := 0
		if event.UnreadCount != nil {
			n = *event.UnreadCount
		} else if count != nil {
			n = count()
		}
		if n < 0 {
			n = 0
		}
		return protocol.NewEvent(protocol.EventUnreadMessageCountChanged, map[string]interface{}{
			"unreadCount": n,
		})
	case provider.EventAuthenticationFailed:
		return protocol.NewEvent(protocol.EventAuthenticationFailed, map[string]interface{}{
			"error": errorString(event.Err),
		})
	default:
		payload := map[string]interface{}{}
		if event.Variant != "" {
			payload["event"] = event.Variant
		}
		return protocol.NewEvent(protocol.EventUnknown, payload)
	}
}

// errorString returns err's message, or nil for a nil error so that the
// payload encodes null.
func errorString(err error) interface{} {
	if err == nil {
		return nil
	}
	return err.Error()
}
