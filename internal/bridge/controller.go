// Package bridge implements the messaging bridge controller.
//
// The Controller receives host commands, checks them against the lifecycle
// state, forwards them to the messaging provider and reports outcomes as
// outbound events. Every state mutation, provider continuation and emitted
// event runs on a single mainloop.Loop, so the host observes events in the
// order the bridge produced them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/lifecycle"
	"github.com/zlc_ai/messaging-bridge/internal/listener"
	"github.com/zlc_ai/messaging-bridge/internal/mainloop"
	"github.com/zlc_ai/messaging-bridge/internal/protocol"
	"github.com/zlc_ai/messaging-bridge/internal/provider"
)

// ErrUnknownMethod is returned for a command the bridge does not implement.
var ErrUnknownMethod = errors.New("method not implemented")

// Config holds the controller configuration.
type Config struct {
	// CommandTimeout bounds how long Handle waits for a command to run on the
	// main loop. Zero means the caller's context alone bounds it.
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout"`
	// Presentation is the style passed to the provider by show.
	Presentation provider.PresentationStyle `json:"presentation_style" yaml:"presentation_style"`
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 10 * time.Second,
		Presentation:   provider.PresentationFullScreen,
	}
}

// Option customizes a Controller.
type Option func(*Controller)

// WithMetrics records command and event metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLoop runs the controller on an existing loop instead of its own.
func WithLoop(loop *mainloop.Loop) Option {
	return func(c *Controller) { c.loop = loop }
}

// Controller is the bridge controller.
type Controller struct {
	cfg      Config
	provider provider.Provider
	emitter  Emitter
	logger   *zap.Logger
	metrics  *Metrics

	loop    *mainloop.Loop
	started atomic.Bool

	// Confined to the loop.
	state    *lifecycle.State
	listener *listener.Adapter
}

// New creates a controller for p. Events are delivered to emitter.
func New(cfg Config, p provider.Provider, emitter Emitter, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	if emitter == nil {
		emitter = discard{}
	}
	if cfg.Presentation == "" {
		cfg.Presentation = provider.PresentationFullScreen
	}

	c := &Controller{
		cfg:      cfg,
		provider: p,
		emitter:  emitter,
		logger:   logger.Named("bridge").With(zap.String("provider", p.Name())),
		state:    lifecycle.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loop == nil {
		c.loop = mainloop.New("bridge", logger)
	}
	c.listener = listener.New(p, c.loop, sinkFunc(c.emit), c.unreadCount, logger)
	c.metrics.observeDroppedEvents(c.listener.Dropped)
	c.metrics.observeLoop(c.loop)
	return c
}

type sinkFunc func(*protocol.Event)

func (f sinkFunc) Emit(event *protocol.Event) { f(event) }

// Start starts the main loop.
func (c *Controller) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.loop.Start()
	c.logger.Info("Bridge controller started")
}

// Stop invalidates the provider if it is still initialized, runs every task
// already queued and stops the main loop.
func (c *Controller) Stop(ctx context.Context) error {
	var err error
	if c.started.Load() {
		err = c.loop.Call(ctx, func() {
			if c.state.Initialized() {
				c.teardown()
			}
		})
		if errors.Is(err, mainloop.ErrStopped) {
			err = nil
		}
	}
	err = multierr.Append(err, c.loop.Stop(ctx))
	c.logger.Info("Bridge controller stopped", zap.Error(err))
	return err
}

// Handle runs cmd on the main loop and returns its response. Provider
// outcomes of asynchronous commands are reported later as events.
func (c *Controller) Handle(ctx context.Context, cmd *protocol.Command) *protocol.Response {
	start := time.Now()
	cmd.EnsureID()

	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}

	c.logger.Debug("Command received",
		zap.String("id", cmd.ID),
		zap.String("method", string(cmd.Method)))

	var (
		result interface{}
		err    error
	)
	if callErr := c.loop.Call(ctx, func() { result, err = c.dispatch(cmd) }); callErr != nil {
		if errors.Is(callErr, mainloop.ErrStopped) {
			c.metrics.command(cmd.Method, OutcomeRejected, time.Since(start))
			return protocol.NewErrorResponse(cmd.ID, protocol.NewError(protocol.ErrCodeBridgeError, callErr.Error()))
		}
		c.metrics.command(cmd.Method, OutcomeTimeout, time.Since(start))
		c.logger.Warn("Command timed out",
			zap.String("id", cmd.ID),
			zap.String("method", string(cmd.Method)),
			zap.Error(callErr))
		return protocol.NewErrorResponse(cmd.ID, protocol.NewError(protocol.ErrCodeTimeout, callErr.Error()))
	}

	switch {
	case err == nil:
		c.metrics.command(cmd.Method, OutcomeDispatched, time.Since(start))
		return protocol.NewResponse(cmd.ID, result)

	case errors.Is(err, ErrNotInitialized):
		c.metrics.command(cmd.Method, OutcomeRejected, time.Since(start))
		c.logger.Warn("Command rejected",
			zap.String("method", string(cmd.Method)),
			zap.Error(err))
		return protocol.NewResponse(cmd.ID, result)

	case errors.Is(err, ErrAlreadyInitialized), errors.Is(err, ErrNotActive):
		c.metrics.command(cmd.Method, OutcomeSkipped, time.Since(start))
		c.logger.Info("Command skipped",
			zap.String("method", string(cmd.Method)),
			zap.Error(err))
		return protocol.NewResponse(cmd.ID, result)

	case errors.Is(err, protocol.ErrInvalidArguments):
		c.metrics.command(cmd.Method, OutcomeInvalid, time.Since(start))
		return protocol.NewErrorResponse(cmd.ID, protocol.NewError(protocol.ErrCodeInvalidArguments, err.Error()))

	case errors.Is(err, ErrUnknownMethod):
		c.metrics.command(cmd.Method, OutcomeUnknown, time.Since(start))
		return protocol.NewErrorResponse(cmd.ID, protocol.NewError(protocol.ErrCodeNotImplemented, err.Error()))

	default:
		c.metrics.command(cmd.Method, OutcomeDispatched, time.Since(start))
		return protocol.NewErrorResponse(cmd.ID, protocol.NewError(protocol.ErrCodeBridgeError, err.Error()))
	}
}

// Sync returns once every task queued on the main loop before the call has
// run.
func (c *Controller) Sync(ctx context.Context) error {
	return c.loop.Call(ctx, func() {})
}

// Snapshot returns the lifecycle state as seen from the main loop.
func (c *Controller) Snapshot(ctx context.Context) (lifecycle.Snapshot, error) {
	var snap lifecycle.Snapshot
	err := c.loop.Call(ctx, func() { snap = c.state.Snapshot() })
	return snap, err
}

// ListenerState returns the event subscription state as seen from the main
// loop.
func (c *Controller) ListenerState(ctx context.Context) (listener.State, error) {
	var s listener.State
	err := c.loop.Call(ctx, func() { s = c.listener.State() })
	return s, err
}

func (c *Controller) dispatch(cmd *protocol.Command) (interface{}, error) {
	args := cmd.Args

	switch cmd.Method {
	case protocol.MethodInitialize:
		key, err := args.String("channelKey")
		if err != nil {
			return nil, err
		}
		return nil, c.initialize(key)

	case protocol.MethodInvalidate:
		return nil, c.invalidate()

	case protocol.MethodShow:
		return nil, c.show()

	case protocol.MethodLoginUser:
		jwt, err := args.String("jwt")
		if err != nil {
			return nil, err
		}
		return nil, c.loginUser(jwt)

	case protocol.MethodLogoutUser:
		return nil, c.logoutUser()

	case protocol.MethodGetUnreadMessageCount:
		return c.unreadCount(), nil

	case protocol.MethodIsInitialized:
		return c.state.Initialized(), nil

	case protocol.MethodIsLoggedIn:
		return c.state.LoggedIn(), nil

	case protocol.MethodSetConversationTags:
		tags, err := args.Strings("tags")
		if err != nil {
			return nil, err
		}
		return nil, c.forward("setConversationTags", func() error {
			return c.provider.SetConversationTags(tags)
		})

	case protocol.MethodClearConversationTags:
		return nil, c.forward("clearConversationTags", c.provider.ClearConversationTags)

	case protocol.MethodSetConversationFields:
		fields, err := args.StringMap("fields")
		if err != nil {
			return nil, err
		}
		return nil, c.forward("setConversationFields", func() error {
			return c.provider.SetConversationFields(fields)
		})

	case protocol.MethodClearConversationFields:
		return nil, c.forward("clearConversationFields", c.provider.ClearConversationFields)

	case protocol.MethodSendPageViewEvent:
		title, err := args.String("pageTitle")
		if err != nil {
			return nil, err
		}
		url, err := args.String("url")
		if err != nil {
			return nil, err
		}
		return nil, c.sendPageView(provider.PageView{PageTitle: title, URL: url})
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, cmd.Method)
}

func (c *Controller) initialize(channelKey string) error {
	if c.state.Initialized() {
		return ErrAlreadyInitialized
	}
	if !c.state.BeginInitialize() {
		return fmt.Errorf("%w: initialize in progress", ErrAlreadyInitialized)
	}

	gen := c.state.Generation()
	done := bind(c, "initialize", gen,
		func(struct{}) {
			c.state.CompleteInitialize(true)
			if _, err := c.listener.Subscribe(); err != nil {
				c.metrics.providerFault("addEventListener")
				c.logger.Error("Event listener not subscribed", zap.Error(err))
			}
			c.logger.Info("Messaging initialized")
			c.emit(protocol.NewEvent(protocol.EventInitializeSuccess, nil))
		},
		func(err error) {
			c.state.CompleteInitialize(false)
			c.logger.Error("Messaging initialization failed", zap.Error(err))
			c.emit(protocol.NewEvent(protocol.EventInitializeFailure, map[string]interface{}{
				"error": errorMessage(err),
			}))
		})

	c.callAsync("initialize", done.OnFailure, func() {
		c.provider.Initialize(channelKey, done)
	})
	return nil
}

func (c *Controller) invalidate() error {
	if !c.state.Initialized() {
		return ErrNotActive
	}
	c.teardown()
	return nil
}

// teardown unsubscribes the listener, invalidates the provider and starts a
// new generation so pending continuations are discarded.
func (c *Controller) teardown() {
	if _, err := c.listener.Unsubscribe(); err != nil {
		c.metrics.providerFault("removeEventListener")
		c.logger.Error("Event listener removal failed", zap.Error(err))
	}
	if err := provider.Guard("invalidate", c.provider.Invalidate); err != nil {
		c.metrics.providerFault("invalidate")
		c.logger.Error("Provider invalidate failed", zap.Error(err))
	}
	c.state.Invalidate()
	c.logger.Info("Messaging invalidated",
		zap.Uint64("generation", uint64(c.state.Generation())))
}

func (c *Controller) show() error {
	if !c.state.Initialized() {
		return ErrNotInitialized
	}
	pc := provider.PresentationContext{Style: c.cfg.Presentation}
	if err := provider.Guard("showMessaging", func() error { return c.provider.ShowMessaging(pc) }); err != nil {
		c.metrics.providerFault("showMessaging")
		c.logger.Error("Show messaging failed", zap.Error(err))
	}
	return nil
}

func (c *Controller) loginUser(jwt string) error {
	if !c.state.Initialized() {
		return ErrNotInitialized
	}

	done := bind(c, "loginUser", c.state.Generation(),
		func(user *provider.User) {
			c.state.SetLoggedIn(true)
			payload := map[string]interface{}{"id": nil, "externalId": nil}
			if user != nil {
				payload["id"] = user.ID
				payload["externalId"] = user.ExternalID
			}
			c.logger.Info("User logged in")
			c.emit(protocol.NewEvent(protocol.EventLoginSuccess, payload))
		},
		func(err error) {
			c.logger.Warn("User login failed", zap.Error(err))
			c.emit(protocol.NewEvent(protocol.EventLoginFailure, map[string]interface{}{
				"error": optionalError(err),
			}))
		})

	c.callAsync("loginUser", done.OnFailure, func() {
		c.provider.LoginUser(jwt, done)
	})
	return nil
}

func (c *Controller) logoutUser() error {
	if !c.state.Initialized() {
		return ErrNotInitialized
	}

	done := bind(c, "logoutUser", c.state.Generation(),
		func(struct{}) {
			c.state.SetLoggedIn(false)
			c.logger.Info("User logged out")
			c.emit(protocol.NewEvent(protocol.EventLogoutSuccess, nil))
		},
		func(err error) {
			c.logger.Warn("User logout failed", zap.Error(err))
			c.emit(protocol.NewEvent(protocol.EventLogoutFailure, map[string]interface{}{
				"error": optionalError(err),
			}))
		})

	c.callAsync("logoutUser", done.OnFailure, func() {
		c.provider.LogoutUser(done)
	})
	return nil
}

func (c *Controller) sendPageView(view provider.PageView) error {
	if !c.state.Initialized() {
		return ErrNotInitialized
	}

	done := bind(c, "sendPageView", c.state.Generation(),
		func(struct{}) {
			c.logger.Debug("Page view sent", zap.String("url", view.URL))
		},
		func(err error) {
			c.logger.Warn("Page view not sent", zap.String("url", view.URL), zap.Error(err))
		})

	c.callAsync("sendPageView", done.OnFailure, func() {
		c.provider.SendPageView(view, done)
	})
	return nil
}

// unreadCount queries the provider. Any fault yields 0.
func (c *Controller) unreadCount() int {
	var n int
	err := provider.Guard("getUnreadMessageCount", func() error {
		var err error
		n, err = c.provider.UnreadMessageCount()
		return err
	})
	if err != nil {
		c.metrics.providerFault("getUnreadMessageCount")
		c.logger.Warn("Unread message count unavailable", zap.Error(err))
		return 0
	}
	if n < 0 {
		return 0
	}
	return n
}

// forward runs a fire-and-forget provider operation. Faults are logged.
func (c *Controller) forward(op string, fn func() error) error {
	if !c.state.Initialized() {
		return ErrNotInitialized
	}
	if err := provider.Guard(op, fn); err != nil {
		c.metrics.providerFault(op)
		c.logger.Error("Provider operation failed", zap.String("op", op), zap.Error(err))
	}
	return nil
}

// callAsync starts an asynchronous provider operation. A panic raised while
// starting it is reported through fail.
func (c *Controller) callAsync(op string, fail func(error), start func()) {
	if err := provider.Guard(op, func() error { start(); return nil }); err != nil {
		c.metrics.providerFault(op)
		fail(err)
	}
}

// bind returns a continuation that re-posts its outcome onto the main loop
// and discards it if the generation has moved on by then.
func bind[T any](c *Controller, op string, gen lifecycle.Generation, onSuccess func(T), onFailure func(error)) provider.Continuation[T] {
	return provider.Once[T](provider.Funcs[T]{
		Success: func(value T) {
			c.resume(op, gen, func() { onSuccess(value) })
		},
		Failure: func(err error) {
			c.resume(op, gen, func() { onFailure(err) })
		},
	})
}

func (c *Controller) resume(op string, gen lifecycle.Generation, fn func()) {
	err := c.loop.Post(func() {
		if !c.state.Current(gen) {
			c.metrics.lateContinuation(op)
			c.logger.Debug("Dropping late continuation",
				zap.String("op", op),
				zap.Uint64("generation", uint64(gen)),
				zap.Uint64("current", uint64(c.state.Generation())))
			return
		}
		fn()
	})
	if err != nil {
		c.logger.Warn("Continuation dropped, main loop stopped",
			zap.String("op", op),
			zap.Error(err))
	}
}

func (c *Controller) emit(event *protocol.Event) {
	c.metrics.event(event.Name)
	c.logger.Debug("Emitting event",
		zap.String("event", string(event.Name)),
		zap.String("id", event.ID))
	c.emitter.Emit(event)
}
