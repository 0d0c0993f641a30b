// Package sandbox provides a simulated messaging SDK so the bridge can run
// without a vendor SDK. The same simulated service is exposed through both
// native shapes: a closure-based SDK for the callback adapter and a
// completion-based SDK for the result adapter.
package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/provider"
)

// ErrNotInitialized is reported by operations that need a live instance.
var ErrNotInitialized = errors.New("sandbox messaging not initialized")

// Options scripts the simulated service.
type Options struct {
	// Latency delays every asynchronous completion. It is written as a
	// duration string such as "200ms".
	Latency time.Duration `yaml:"latency" json:"latency"`
	// InitializeError makes initialize fail with this message.
	InitializeError string `yaml:"initialize_error" json:"initialize_error"`
	// LoginError makes loginUser fail with this message.
	LoginError string `yaml:"login_error" json:"login_error"`
	// LogoutError makes logoutUser fail with this message.
	LogoutError string `yaml:"logout_error" json:"logout_error"`
	// AnonymousLogin completes loginUser without a user.
	AnonymousLogin bool `yaml:"anonymous_login" json:"anonymous_login"`
	// UserID and ExternalID describe the logged-in user.
	UserID     string `yaml:"user_id" json:"user_id"`
	ExternalID string `yaml:"external_id" json:"external_id"`
	// UnreadCount is the initial unread message count.
	UnreadCount int `yaml:"unread_count" json:"unread_count"`
}

// DefaultOptions returns options for an always-succeeding service.
func DefaultOptions() Options {
	return Options{
		UserID:     "sandbox-user",
		ExternalID: "sandbox-external",
	}
}

type noticeKind int

const (
	noticeUnreadChanged noticeKind = iota
	noticeAuthFailed
	noticeFieldValidation
)

// notice is an engine event before it is shaped for a platform.
type notice struct {
	kind   noticeKind
	count  int
	err    error
	errors []string
}

// State is a snapshot of the simulated service.
type State struct {
	Initialized bool                `json:"initialized"`
	ChannelKey  string              `json:"channelKey,omitempty"`
	User        *provider.User      `json:"user"`
	UnreadCount int                 `json:"unreadCount"`
	Tags        []string            `json:"tags"`
	Fields      map[string]string   `json:"fields"`
	Presented   int                 `json:"presented"`
	PageViews   []provider.PageView `json:"pageViews"`
	Observers   int                 `json:"observers"`
}

// Engine is the simulated messaging service.
type Engine struct {
	logger *zap.Logger

	mu          sync.Mutex
	opts        Options
	initialized bool
	channelKey  string
	user        *provider.User
	unread      int
	tags        []string
	fields      map[string]string
	presented   int
	pageViews   []provider.PageView
	observers   map[interface{}]func(notice)
}

// NewEngine creates a simulated service.
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:    logger.Named("sandbox"),
		opts:      opts,
		unread:    opts.UnreadCount,
		fields:    make(map[string]string),
		observers: make(map[interface{}]func(notice)),
	}
}

// SetOptions replaces the scripted behavior.
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
}

// Options returns the current scripted behavior.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// State returns a snapshot of the service.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := State{
		Initialized: e.initialized,
		ChannelKey:  e.channelKey,
		UnreadCount: e.unread,
		Tags:        append([]string{}, e.tags...),
		Fields:      make(map[string]string, len(e.fields)),
		Presented:   e.presented,
		PageViews:   append([]provider.PageView{}, e.pageViews...),
		Observers:   len(e.observers),
	}
	for k, v := range e.fields {
		s.Fields[k] = v
	}
	if e.user != nil {
		u := *e.user
		s.User = &u
	}
	return s
}

// later runs fn after the configured latency on its own goroutine.
func (e *Engine) later(fn func()) {
	e.mu.Lock()
	latency := e.opts.Latency
	e.mu.Unlock()

	if latency <= 0 {
		go fn()
		return
	}
	time.AfterFunc(latency, fn)
}

func scripted(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

func (e *Engine) initialize(channelKey string, done func(error)) {
	e.later(func() {
		e.mu.Lock()
		err := scripted(e.opts.InitializeError)
		if err == nil && channelKey == "" {
			err = fmt.Errorf("invalid channel key")
		}
		if err == nil {
			e.initialized = true
			e.channelKey = channelKey
		}
		e.mu.Unlock()

		e.logger.Info("Sandbox initialize completed", zap.Bool("ok", err == nil))
		done(err)
	})
}

func (e *Engine) invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
	e.channelKey = ""
	e.user = nil
	e.logger.Info("Sandbox instance invalidated")
}

func (e *Engine) login(jwt string, done func(*provider.User, error)) {
	e.later(func() {
		e.mu.Lock()
		var (
			user *provider.User
			err  error
		)
		switch {
		case !e.initialized:
			err = ErrNotInitialized
		case e.opts.LoginError != "":
			err = errors.New(e.opts.LoginError)
		case jwt == "":
			err = fmt.Errorf("empty jwt")
		case !e.opts.AnonymousLogin:
			user = &provider.User{ID: e.opts.UserID, ExternalID: e.opts.ExternalID}
		}
		if err == nil {
			e.user = user
		}
		e.mu.Unlock()

		done(user, err)
	})
}

func (e *Engine) logout(done func(error)) {
	e.later(func() {
		e.mu.Lock()
		err := scripted(e.opts.LogoutError)
		if err == nil && !e.initialized {
			err = ErrNotInitialized
		}
		if err == nil {
			e.user = nil
		}
		e.mu.Unlock()

		done(err)
	})
}

func (e *Engine) sendPageView(view provider.PageView, done func(error)) {
	e.later(func() {
		e.mu.Lock()
		var err error
		if !e.initialized {
			err = ErrNotInitialized
		} else {
			e.pageViews = append(e.pageViews, view)
		}
		e.mu.Unlock()

		done(err)
	})
}

func (e *Engine) present() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return false
	}
	e.presented++
	return true
}

func (e *Engine) unreadCount() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread, e.initialized
}

func (e *Engine) setTags(tags []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tags = append([]string(nil), tags...)
	sort.Strings(e.tags)
}

func (e *Engine) clearTags() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tags = nil
}

func (e *Engine) setFields(fields map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range fields {
		e.fields[k] = v
	}
}

func (e *Engine) clearFields() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields = make(map[string]string)
}

func (e *Engine) observe(key interface{}, fn func(notice)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers[key] = fn
}

func (e *Engine) unobserve(key interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.observers, key)
}

// publish delivers n to every observer on the calling goroutine.
func (e *Engine) publish(n notice) int {
	e.mu.Lock()
	fns := make([]func(notice), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
	return len(fns)
}

// SetUnreadCount changes the unread count and notifies observers.
func (e *Engine) SetUnreadCount(count int) int {
	e.mu.Lock()
	e.unread = count
	e.mu.Unlock()
	return e.publish(notice{kind: noticeUnreadChanged, count: count})
}

// FailAuthentication notifies observers that the user JWT was rejected.
func (e *Engine) FailAuthentication(reason string) int {
	return e.publish(notice{kind: noticeAuthFailed, err: scripted(reason)})
}

// FailFieldValidation notifies observers that conversation fields were
// rejected.
func (e *Engine) FailFieldValidation(errs []string) int {
	return e.publish(notice{kind: noticeFieldValidation, errors: append([]string(nil), errs...)})
}
