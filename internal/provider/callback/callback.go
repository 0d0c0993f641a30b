// Package callback adapts SDKs that report asynchronous outcomes through a
// pair of success/failure closures and deliver events to listener objects.
package callback

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/provider"
)

// Event is a native event delivered by a closure-based SDK.
type Event interface {
	isEvent()
}

// UnreadMessageCountChanged signals a change without carrying the count.
type UnreadMessageCountChanged struct{}

// AuthenticationFailed signals that the user JWT was rejected.
type AuthenticationFailed struct {
	Err error
}

// FieldValidationFailed signals rejected conversation fields.
type FieldValidationFailed struct {
	Errors []string
}

func (UnreadMessageCountChanged) isEvent() {}
func (AuthenticationFailed) isEvent()      {}
func (FieldValidationFailed) isEvent()     {}

// EventListener receives native events.
type EventListener interface {
	OnEvent(event Event)
}

// SDK is the native surface of a closure-based messaging SDK.
// Synchronous methods signal faults by panicking.
type SDK interface {
	Initialize(channelKey string, success func(), failure func(err error))
	Invalidate()
	LoginUser(jwt string, success func(user *provider.User), failure func(err error))
	LogoutUser(success func(), failure func(err error))
	ShowMessaging(flags int)
	GetUnreadMessageCount() int
	SetConversationTags(tags []string)
	ClearConversationTags()
	SetConversationFields(fields map[string]string)
	ClearConversationFields()
	AddEventListener(l EventListener)
	RemoveEventListener(l EventListener)
}

// FlagActivityNewTask is passed to ShowMessaging for full-screen presentation.
const FlagActivityNewTask = 0x10000000

// Adapter implements provider.Provider on top of a closure-based SDK.
type Adapter struct {
	sdk    SDK
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[provider.Listener]*nativeListener
}

var _ provider.Provider = (*Adapter)(nil)

// New creates an adapter for sdk.
func New(sdk SDK, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		sdk:       sdk,
		logger:    logger.Named("callback"),
		listeners: make(map[provider.Listener]*nativeListener),
	}
}

func (a *Adapter) Name() string {
	return "callback"
}

func (a *Adapter) Initialize(channelKey string, done provider.Continuation[struct{}]) {
	done = provider.Once(done)
	err := provider.Guard("initialize", func() error {
		a.sdk.Initialize(channelKey,
			func() { done.OnSuccess(struct{}{}) },
			func(err error) { done.OnFailure(err) })
		return nil
	})
	if err != nil {
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
	err := provider.Guard("loginUser", func() error {
		a.sdk.LoginUser(jwt,
			func(user *provider.User) { done.OnSuccess(user) },
			func(err error) { done.OnFailure(err) })
		return nil
	})
	if err != nil {
		done.OnFailure(err)
	}
}

func (a *Adapter) LogoutUser(done provider.Continuation[struct{}]) {
	done = provider.Once(done)
	err := provider.Guard("logoutUser", func() error {
		a.sdk.LogoutUser(
			func() { done.OnSuccess(struct{}{}) },
			func(err error) { done.OnFailure(err) })
		return nil
	})
	if err != nil {
		done.OnFailure(err)
	}
}

func (a *Adapter) ShowMessaging(pc provider.PresentationContext) error {
	return provider.Guard("showMessaging", func() error {
		a.sdk.ShowMessaging(FlagActivityNewTask)
		return nil
	})
}

func (a *Adapter) UnreadMessageCount() (count int, err error) {
	err = provider.Guard("getUnreadMessageCount", func() error {
		count = a.sdk.GetUnreadMessageCount()
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

// SendPageView is not offered by closure-based SDKs.
func (a *Adapter) SendPageView(view provider.PageView, done provider.Continuation[struct{}]) {
	done.OnFailure(fmt.Errorf("sendPageView: %w", provider.ErrUnsupported))
}

func (a *Adapter) AddEventListener(l provider.Listener) {
	a.mu.Lock()
	if _, exists := a.listeners[l]; exists {
		a.mu.Unlock()
		return
	}
	nl := &nativeListener{target: l}
	a.listeners[l] = nl
	a.mu.Unlock()

	a.sdk.AddEventListener(nl)
	a.logger.Debug("Event listener added")
}

func (a *Adapter) RemoveEventListener(l provider.Listener) {
	a.mu.Lock()
	nl, exists := a.listeners[l]
	delete(a.listeners, l)
	a.mu.Unlock()

	if exists {
		a.sdk.RemoveEventListener(nl)
		a.logger.Debug("Event listener removed")
	}
}

// nativeListener forwards native events to a provider.Listener.
type nativeListener struct {
	target provider.Listener
}

func (n *nativeListener) OnEvent(event Event) {
	n.target.OnEvent(Translate(event))
}

// Translate converts a native event to a provider event.
func Translate(event Event) provider.Event {
	switch ev := event.(type) {
	case UnreadMessageCountChanged:
		return provider.Event{Kind: provider.EventUnreadMessageCountChanged}
	case AuthenticationFailed:
		return provider.Event{Kind: provider.EventAuthenticationFailed, Err: ev.Err}
	case FieldValidationFailed:
		var err error
		if len(ev.Errors) > 0 {
			err = errors.New(strings.Join(ev.Errors, "; "))
		}
		return provider.Event{Kind: provider.EventFieldValidationFailed, Err: err, Variant: "fieldValidationFailed"}
	default:
		return provider.Event{Kind: provider.EventUnrecognized, Variant: fmt.Sprintf("%T", event)}
	}
}
