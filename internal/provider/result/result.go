// Package result adapts SDKs that report asynchronous outcomes through a
// single completion handler receiving a success-or-failure result, and that
// deliver events to observer handlers keyed by an observer object.
package result

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/provider"
)

// Result is the outcome handed to a completion handler.
type Result[T any] struct {
	Value T
	Err   error
}

// Success returns a successful result.
func Success[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Failure returns a failed result.
func Failure[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Event is a native event delivered by a result-based SDK.
type Event interface {
	isEvent()
}

// UnreadMessageCountChanged carries the new unread count.
type UnreadMessageCountChanged struct {
	Count int
}

// AuthenticationFailed signals that the user JWT was rejected.
type AuthenticationFailed struct {
	Err error
}

func (UnreadMessageCountChanged) isEvent() {}
func (AuthenticationFailed) isEvent()      {}

// SDK is the native surface of a result-based messaging SDK.
// Operations that need a live instance report its absence through ok=false.
type SDK interface {
	Initialize(channelKey string, completion func(Result[struct{}]))
	Invalidate()
	LoginUser(jwt string, completion func(Result[*provider.User]))
	LogoutUser(completion func(Result[struct{}]))
	// PresentMessaging presents the messaging view modally. It returns false
	// when no view could be created.
	PresentMessaging(style string) bool
	UnreadMessageCount() (count int, ok bool)
	SetConversationTags(tags []string)
	ClearConversationTags()
	SetConversationFields(fields map[string]string)
	ClearConversationFields()
	SendPageView(view provider.PageView, completion func(Result[struct{}]))
	AddEventObserver(observer interface{}, handler func(Event))
	RemoveEventObserver(observer interface{})
}

// ErrNoInstance is reported when the SDK has no live instance.
var ErrNoInstance = errors.New("messaging instance unavailable")

// Adapter implements provider.Provider on top of a result-based SDK.
type Adapter struct {
	sdk    SDK
	logger *zap.Logger
}

var _ provider.Provider = (*Adapter)(nil)

// New creates an adapter for sdk.
func New(sdk SDK, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		sdk:    sdk,
		logger: logger.Named("result"),
	}
}

func (a *Adapter) Name() string {
	return "result"
}

// complete routes a result to a continuation.
func complete[T any](done provider.Continuation[T]) func(Result[T]) {
	return func(r Result[T]) {
		if r.Err != nil {
			done.OnFailure(r.Err)
			return
		}
		done.OnSuccess(r.Value)
	}
}

func (a *Adapter) Initialize(channelKey string, done provider.Continuation[struct{}]) {
	done = provider.Once(done)
	if err := provider.Guard("initialize", func() error {
		a.sdk.Initialize(channelKey, complete(done))
		return nil
	}); err != nil {
		done.OnFailure(err)
	}
}

func (a *Adapter) Invalidate() error {
	return provider.Guard("invalidate", func() error {
		a.sdk.Invalidate()
		return nil
	})
}

func (a *Adapter) LoginUser(jwt string, done provider.Continuation[*provider.User]) {
	done = provider.Once(done)
	if err := provider.Guard("loginUser", func() error {
		a.sdk.LoginUser(jwt, complete(done))
		return nil
	}); err != nil {
		done.OnFailure(err)
	}
}

func (a *Adapter) LogoutUser(done provider.Continuation[struct{}]) {
	done = provider.Once(done)
	if err := provider.Guard("logoutUser", func() error {
		a.sdk.LogoutUser(complete(done))
		return nil
	}); err != nil {
		done.OnFailure(err)
	}
}

func (a *Adapter) ShowMessaging(pc provider.PresentationContext) error {
	style := pc.Style
	if style == "" {
		style = provider.PresentationFullScreen
	}
	return provider.Guard("showMessaging", func() error {
		if !a.sdk.PresentMessaging(string(style)) {
			return fmt.Errorf("unable to create messaging view: %w", ErrNoInstance)
		}
		return nil
	})
}

func (a *Adapter) UnreadMessageCount() (count int, err error) {
	err = provider.Guard("getUnreadMessageCount", func() error {
		var ok bool
		count, ok = a.sdk.UnreadMessageCount()
		if !ok {
			return ErrNoInstance
		}
		return nil
	})
	return count, err
}

func (a *Adapter) SetConversationTags(tags []string) error {
	return provider.Guard("setConversationTags", func() error {
		a.sdk.SetConversationTags(tags)
		return nil
	})
}

func (a *Adapter) ClearConversationTags() error {
	return provider.Guard("clearConversationTags", func() error {
		a.sdk.ClearConversationTags()
		return nil
	})
}

func (a *Adapter) SetConversationFields(fields map[string]string) error {
	return provider.Guard("setConversationFields", func() error {
		a.sdk.SetConversationFields(fields)
		return nil
	})
}

func (a *Adapter) ClearConversationFields() error {
	return provider.Guard("clearConversationFields", func() error {
		a.sdk.ClearConversationFields()
		return nil
	})
}

func (a *Adapter) SendPageView(view provider.PageView, done provider.Continuation[struct{}]) {
	done = provider.Once(done)
	if err := provider.Guard("sendPageView", func() error {
		a.sdk.SendPageView(view, complete(done))
		return nil
	}); err != nil {
		done.OnFailure(err)
	}
}

// AddEventListener registers l as an observer. The listener itself is the
// observer key, so RemoveEventListener(l) removes exactly this registration.
func (a *Adapter) AddEventListener(l provider.Listener) {
	a.sdk.AddEventObserver(l, func(event Event) {
		l.OnEvent(Translate(event))
	})
	a.logger.Debug("Event observer added")
}

func (a *Adapter) RemoveEventListener(l provider.Listener) {
	a.sdk.RemoveEventObserver(l)
	a.logger.Debug("Event observer removed")
}

// Translate converts a native event to a provider event.
func Translate(event Event) provider.Event {
	switch ev := event.(type) {
	case UnreadMessageCountChanged:
		return provider.UnreadCountChanged(ev.Count)
	case AuthenticationFailed:
		return provider.Event{Kind: provider.EventAuthenticationFailed, Err: ev.Err}
	default:
		return provider.Event{Kind: provider.EventUnrecognized, Variant: fmt.Sprintf("%T", event)}
	}
}
