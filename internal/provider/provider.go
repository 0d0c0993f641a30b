// Package provider defines the capability surface the bridge requires of a
// vendor messaging SDK.
// Each platform SDK (closure-based, result-based, sandbox, etc.) is adapted to
// this interface once, at the boundary, so the bridge never sees native
// callback shapes.
package provider

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Continuation receives the outcome of an asynchronous provider operation.
// Exactly one of OnSuccess or OnFailure is invoked, on any goroutine.
type Continuation[T any] interface {
	OnSuccess(value T)
	OnFailure(err error)
}

// Funcs adapts a pair of functions to a Continuation. Nil functions are
// skipped.
type Funcs[T any] struct {
	Success func(value T)
	Failure func(err error)
}

func (f Funcs[T]) OnSuccess(value T) {
	if f.Success != nil {
		f.Success(value)
	}
}

func (f Funcs[T]) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

// Listener receives provider events once registered with AddEventListener.
// Registrations are keyed by listener identity.
type Listener interface {
	OnEvent(event Event)
}

// User is the authenticated messaging user returned by LoginUser.
type User struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
}

// PageView describes a host page visit reported to the provider.
type PageView struct {
	PageTitle string `json:"pageTitle"`
	URL       string `json:"url"`
}

// PresentationStyle controls how the messaging view is presented.
type PresentationStyle string

const (
	PresentationFullScreen PresentationStyle = "fullScreen"
	PresentationPageSheet  PresentationStyle = "pageSheet"
)

// PresentationContext is handed to ShowMessaging.
type PresentationContext struct {
	Style PresentationStyle
}

// Provider is the interface every vendor SDK adapter must implement.
//
// Asynchronous operations report through a Continuation. Synchronous
// operations report faults as errors; implementations may also panic, and
// callers are expected to contain that.
type Provider interface {
	// Name returns the unique identifier for this provider.
	Name() string

	// Initialize prepares the SDK for the given channel key.
	Initialize(channelKey string, done Continuation[struct{}])

	// Invalidate tears the SDK instance down.
	Invalidate() error

	// LoginUser authenticates a user with a JWT. The user may be nil on
	// success when the SDK does not report one.
	LoginUser(jwt string, done Continuation[*User])

	// LogoutUser ends the authenticated session.
	LogoutUser(done Continuation[struct{}])

	// ShowMessaging presents the messaging view.
	ShowMessaging(pc PresentationContext) error

	// UnreadMessageCount returns the current unread message count.
	UnreadMessageCount() (int, error)

	SetConversationTags(tags []string) error
	ClearConversationTags() error
	SetConversationFields(fields map[string]string) error
	ClearConversationFields() error

	// SendPageView reports a page view.
	SendPageView(view PageView, done Continuation[struct{}])

	// AddEventListener registers l for provider events.
	AddEventListener(l Listener)

	// RemoveEventListener removes a registration made by AddEventListener.
	RemoveEventListener(l Listener)
}

// Settings is passed to a Factory.
type Settings struct {
	// Platform selects the native callback shape ("callback" or "result").
	Platform string
	// Options carries provider-specific configuration.
	Options map[string]interface{}
	// Logger is the logger for the provider. Never nil.
	Logger *zap.Logger
	// Control is an optional mux on which providers may mount an HTTP
	// control surface.
	Control *http.ServeMux
}

// Factory creates a provider from settings.
type Factory func(settings Settings) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register registers a provider factory with the given name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Lookup retrieves a provider factory by name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[name]
	return factory, ok
}

// Names returns the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New looks up and invokes the named factory.
func New(name string, settings Settings) (Provider, error) {
	factory, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", name, Names())
	}
	if settings.Logger == nil {
		settings.Logger = zap.NewNop()
	}
	p, err := factory(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", name, err)
	}
	return p, nil
}
