package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zlc_ai/messaging-bridge/internal/listener"
	"github.com/zlc_ai/messaging-bridge/internal/mainloop"
	"github.com/zlc_ai/messaging-bridge/internal/protocol"
	"github.com/zlc_ai/messaging-bridge/internal/provider"
	"github.com/zlc_ai/messaging-bridge/internal/provider/providertest"
)

type recorder struct {
	mu     sync.Mutex
	events []*protocol.Event
}

func (r *recorder) Emit(ev *protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// take returns and clears the recorded events.
func (r *recorder) take() []*protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func names(events []*protocol.Event) []protocol.EventName {
	out := make([]protocol.EventName, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Name)
	}
	return out
}

type harness struct {
	t       *testing.T
	p       *providertest.Provider
	c       *Controller
	events  *recorder
	logs    *observer.ObservedLogs
	metrics *Metrics
}

func newHarness(t *testing.T, p provider.Provider, opts ...Option) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	rec := &recorder{}

	opts = append([]Option{WithMetrics(metrics)}, opts...)
	c := New(DefaultConfig(), p, rec, zap.New(core), opts...)
	c.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})

	h := &harness{t: t, c: c, events: rec, logs: logs, metrics: metrics}
	if fake, ok := p.(*providertest.Provider); ok {
		h.p = fake
	}
	return h
}

func newFakeHarness(t *testing.T, opts ...Option) *harness {
	return newHarness(t, providertest.New(), opts...)
}

func (h *harness) do(method protocol.Method, args protocol.Args) *protocol.Response {
	h.t.Helper()
	resp := h.c.Handle(context.Background(), protocol.NewCommand(method, args))
	require.NotNil(h.t, resp)
	return resp
}

func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.c.Sync(context.Background()))
}

func (h *harness) snapshot() (initialized, loggedIn bool) {
	h.t.Helper()
	snap, err := h.c.Snapshot(context.Background())
	require.NoError(h.t, err)
	return snap.Initialized, snap.LoggedIn
}

// initialize drives a successful initialize and drains its events.
func (h *harness) initialize() {
	h.t.Helper()
	resp := h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	require.Nil(h.t, resp.Error)
	require.NoError(h.t, h.p.CompleteInitialize(nil))
	h.sync()
	require.Equal(h.t, []protocol.EventName{protocol.EventInitializeSuccess}, names(h.events.take()))
}

func (h *harness) registration() provider.Listener {
	h.t.Helper()
	for _, call := range h.p.Calls() {
		if call.Op == "addEventListener" {
			return call.Args[0].(provider.Listener)
		}
	}
	h.t.Fatal("no listener registered")
	return nil
}

func TestCommandsBeforeInitializeNeverReachProvider(t *testing.T) {
	h := newFakeHarness(t)

	gated := []*protocol.Command{
		protocol.NewCommand(protocol.MethodShow, nil),
		protocol.NewCommand(protocol.MethodLoginUser, protocol.Args{"jwt": "jwt1"}),
		protocol.NewCommand(protocol.MethodLogoutUser, nil),
		protocol.NewCommand(protocol.MethodSetConversationTags, protocol.Args{"tags": []interface{}{"vip"}}),
		protocol.NewCommand(protocol.MethodClearConversationTags, nil),
		protocol.NewCommand(protocol.MethodSetConversationFields, protocol.Args{"fields": map[string]interface{}{"plan": "pro"}}),
		protocol.NewCommand(protocol.MethodClearConversationFields, nil),
		protocol.NewCommand(protocol.MethodSendPageViewEvent, protocol.Args{"pageTitle": "Home", "url": "https://example.com"}),
		protocol.NewCommand(protocol.MethodInvalidate, nil),
	}
	for _, cmd := range gated {
		resp := h.c.Handle(context.Background(), cmd)
		assert.Nil(t, resp.Error, cmd.Method)
		assert.Nil(t, resp.Result, cmd.Method)
		assert.Equal(t, cmd.ID, resp.ID)
	}

	h.sync()
	assert.Empty(t, h.p.Calls())
	assert.Empty(t, h.events.take())
	assert.Equal(t, len(gated)-1, h.logs.FilterMessage("Command rejected").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("Command skipped").Len())
	for _, entry := range h.logs.FilterMessage("Command rejected").All() {
		assert.Equal(t, zapcore.WarnLevel, entry.Level)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.commands.WithLabelValues("show", OutcomeRejected)))
}

func TestQueriesBeforeInitialize(t *testing.T) {
	h := newFakeHarness(t)
	h.p.SetUnreadCount(4, nil)

	assert.Equal(t, false, h.do(protocol.MethodIsInitialized, nil).Result)
	assert.Equal(t, false, h.do(protocol.MethodIsLoggedIn, nil).Result)
	assert.Equal(t, 4, h.do(protocol.MethodGetUnreadMessageCount, nil).Result)
	assert.Equal(t, 1, h.p.CallCount("getUnreadMessageCount"))
}

func TestInitializeTwiceCallsProviderOnce(t *testing.T) {
	h := newFakeHarness(t)

	h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	require.NoError(t, h.p.CompleteInitialize(nil))
	h.sync()
	h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	h.sync()

	assert.Equal(t, 1, h.p.CallCount("initialize"))
	assert.Equal(t, 1, h.p.ListenerCount())
	assert.Equal(t, 1, h.p.CallCount("addEventListener"))
	assert.Equal(t, []protocol.EventName{protocol.EventInitializeSuccess}, names(h.events.take()))
}

func TestLifecycleScenario(t *testing.T) {
	h := newFakeHarness(t)

	resp := h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	require.Nil(t, resp.Error)
	require.Equal(t, []interface{}{"abc"}, h.p.Calls()[0].Args)
	require.NoError(t, h.p.CompleteInitialize(nil))
	h.sync()

	assert.Equal(t, []protocol.EventName{protocol.EventInitializeSuccess}, names(h.events.take()))
	state, err := h.c.ListenerState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, listener.Subscribed, state)
	assert.Equal(t, true, h.do(protocol.MethodIsInitialized, nil).Result)

	h.p.Emit(provider.UnreadCountChanged(3))
	h.sync()
	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventUnreadMessageCountChanged, events[0].Name)
	assert.Equal(t, map[string]interface{}{"unreadCount": 3}, events[0].Payload)

	h.do(protocol.MethodLoginUser, protocol.Args{"jwt": "jwt1"})
	require.NoError(t, h.p.CompleteLogin(&provider.User{ID: "u1", ExternalID: "e1"}, nil))
	h.sync()
	events = h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventLoginSuccess, events[0].Name)
	assert.Equal(t, map[string]interface{}{"id": "u1", "externalId": "e1"}, events[0].Payload)
	initialized, loggedIn := h.snapshot()
	assert.True(t, initialized)
	assert.True(t, loggedIn)
	assert.Equal(t, true, h.do(protocol.MethodIsLoggedIn, nil).Result)

	reg := h.registration()
	h.do(protocol.MethodInvalidate, nil)
	initialized, loggedIn = h.snapshot()
	assert.False(t, initialized)
	assert.False(t, loggedIn)
	assert.Equal(t, 0, h.p.ListenerCount())
	assert.Equal(t, 1, h.p.CallCount("invalidate"))

	h.p.Emit(provider.UnreadCountChanged(5))
	h.p.EmitTo(reg, provider.UnreadCountChanged(6))
	h.sync()
	assert.Empty(t, h.events.take())
	assert.Equal(t, int64(1), h.c.listener.Dropped())
}

func TestInitializeFailure(t *testing.T) {
	h := newFakeHarness(t)

	h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	require.NoError(t, h.p.CompleteInitialize(errors.New("network")))
	h.sync()

	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventInitializeFailure, events[0].Name)
	assert.Equal(t, map[string]interface{}{"error": "network"}, events[0].Payload)
	initialized, _ := h.snapshot()
	assert.False(t, initialized)
	assert.Equal(t, 0, h.p.CallCount("addEventListener"))

	// A failed initialize can be retried.
	h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	assert.Equal(t, 2, h.p.CallCount("initialize"))
}

func TestLoginWithoutUser(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.do(protocol.MethodLoginUser, protocol.Args{"jwt": "jwt1"})
	require.NoError(t, h.p.CompleteLogin(nil, nil))
	h.sync()

	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventLoginSuccess, events[0].Name)
	assert.Equal(t, map[string]interface{}{"id": nil, "externalId": nil}, events[0].Payload)
	_, loggedIn := h.snapshot()
	assert.True(t, loggedIn)
}

func TestLoginFailure(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.do(protocol.MethodLoginUser, protocol.Args{"jwt": "bad"})
	require.NoError(t, h.p.CompleteLogin(nil, errors.New("invalid jwt")))
	h.sync()

	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventLoginFailure, events[0].Name)
	assert.Equal(t, "invalid jwt", events[0].Payload["error"])
	_, loggedIn := h.snapshot()
	assert.False(t, loggedIn)
}

func TestLogout(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()
	h.do(protocol.MethodLoginUser, protocol.Args{"jwt": "jwt1"})
	require.NoError(t, h.p.CompleteLogin(&provider.User{ID: "u1"}, nil))
	h.sync()
	h.events.take()

	h.do(protocol.MethodLogoutUser, nil)
	require.NoError(t, h.p.CompleteLogout(errors.New("offline")))
	h.sync()
	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventLogoutFailure, events[0].Name)
	assert.Equal(t, "offline", events[0].Payload["error"])
	_, loggedIn := h.snapshot()
	assert.True(t, loggedIn)

	h.do(protocol.MethodLogoutUser, nil)
	require.NoError(t, h.p.CompleteLogout(nil))
	h.sync()
	assert.Equal(t, []protocol.EventName{protocol.EventLogoutSuccess}, names(h.events.take()))
	_, loggedIn = h.snapshot()
	assert.False(t, loggedIn)
}

func TestUnreadCountNeverFaults(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.p.SetUnreadCount(7, errors.New("no conversation"))
	assert.Equal(t, 0, h.do(protocol.MethodGetUnreadMessageCount, nil).Result)

	h.p.SetUnreadCount(0, nil)
	h.p.SetUnreadPanic(true)
	resp := h.do(protocol.MethodGetUnreadMessageCount, nil)
	assert.Nil(t, resp.Error)
	assert.Equal(t, 0, resp.Result)

	// The re-query for a count-less event is equally tolerant.
	h.p.Emit(provider.Event{Kind: provider.EventUnreadMessageCountChanged})
	h.sync()
	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].Payload["unreadCount"])

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.providerFaults.WithLabelValues("getUnreadMessageCount")))
}

func TestUnknownProviderEvent(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.p.Emit(provider.Event{Kind: provider.EventFieldValidationFailed, Variant: "fieldValidationFailed"})
	h.sync()

	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventUnknown, events[0].Name)
	assert.Equal(t, "fieldValidationFailed", events[0].Payload["event"])
}

func TestAuthenticationFailedEvent(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.p.Emit(provider.Event{Kind: provider.EventAuthenticationFailed, Err: errors.New("jwt expired")})
	h.sync()

	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventAuthenticationFailed, events[0].Name)
	assert.Equal(t, "jwt expired", events[0].Payload["error"])
}

func TestLateLoginAfterInvalidateIsDropped(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.do(protocol.MethodLoginUser, protocol.Args{"jwt": "jwt1"})
	h.do(protocol.MethodInvalidate, nil)
	require.NoError(t, h.p.CompleteLogin(&provider.User{ID: "u1"}, nil))
	h.sync()

	assert.Empty(t, h.events.take())
	initialized, loggedIn := h.snapshot()
	assert.False(t, initialized)
	assert.False(t, loggedIn)
	assert.Equal(t, 1, h.logs.FilterMessage("Dropping late continuation").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.lateContinuations.WithLabelValues("loginUser")))
}

func TestLateLoginAfterReinitializeIsDropped(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.do(protocol.MethodLoginUser, protocol.Args{"jwt": "jwt1"})
	h.do(protocol.MethodInvalidate, nil)
	h.initialize()
	require.NoError(t, h.p.CompleteLogin(&provider.User{ID: "u1"}, nil))
	h.sync()

	assert.Empty(t, h.events.take())
	initialized, loggedIn := h.snapshot()
	assert.True(t, initialized)
	assert.False(t, loggedIn)
}

func TestInvalidArguments(t *testing.T) {
	h := newFakeHarness(t)

	cases := []*protocol.Command{
		protocol.NewCommand(protocol.MethodInitialize, nil),
		protocol.NewCommand(protocol.MethodInitialize, protocol.Args{"channelKey": 42}),
		protocol.NewCommand(protocol.MethodLoginUser, protocol.Args{}),
		protocol.NewCommand(protocol.MethodSetConversationTags, protocol.Args{"tags": "vip"}),
		protocol.NewCommand(protocol.MethodSetConversationFields, protocol.Args{"fields": []interface{}{"a"}}),
		protocol.NewCommand(protocol.MethodSendPageViewEvent, protocol.Args{"pageTitle": "Home"}),
	}
	for _, cmd := range cases {
		resp := h.c.Handle(context.Background(), cmd)
		require.NotNil(t, resp.Error, cmd.Method)
		assert.Equal(t, protocol.ErrCodeInvalidArguments, resp.Error.Code, cmd.Method)
	}
	assert.Empty(t, h.p.Calls())
	assert.Empty(t, h.events.take())
}

func TestUnknownMethod(t *testing.T) {
	h := newFakeHarness(t)

	resp := h.do("openConversation", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeNotImplemented, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "openConversation")
}

func TestForwardedOperations(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.do(protocol.MethodShow, nil)
	h.do(protocol.MethodSetConversationTags, protocol.Args{"tags": []interface{}{"vip", "beta"}})
	h.do(protocol.MethodClearConversationTags, nil)
	h.do(protocol.MethodSetConversationFields, protocol.Args{"fields": map[string]interface{}{"plan": "pro"}})
	h.do(protocol.MethodClearConversationFields, nil)

	var ops []string
	for _, call := range h.p.Calls() {
		ops = append(ops, call.Op)
	}
	assert.Equal(t, []string{
		"initialize",
		"addEventListener",
		"showMessaging",
		"setConversationTags",
		"clearConversationTags",
		"setConversationFields",
		"clearConversationFields",
	}, ops)

	calls := h.p.Calls()
	assert.Equal(t, provider.PresentationContext{Style: provider.PresentationFullScreen}, calls[2].Args[0])
	assert.Equal(t, []string{"vip", "beta"}, calls[3].Args[0])
	assert.Equal(t, map[string]string{"plan": "pro"}, calls[5].Args[0])
	assert.Empty(t, h.events.take())
}

func TestForwardedFaultIsLoggedNotEmitted(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()
	h.p.FailOp("setConversationTags", errors.New("rejected"))

	resp := h.do(protocol.MethodSetConversationTags, protocol.Args{"tags": []interface{}{"vip"}})
	assert.Nil(t, resp.Error)
	h.sync()

	assert.Empty(t, h.events.take())
	entries := h.logs.FilterMessage("Provider operation failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestSendPageView(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	h.do(protocol.MethodSendPageViewEvent, protocol.Args{"pageTitle": "Pricing", "url": "https://example.com/pricing"})
	require.NoError(t, h.p.CompletePageView(errors.New("unsupported")))
	h.sync()

	assert.Equal(t, 1, h.p.CallCount("sendPageView"))
	assert.Equal(t, provider.PageView{PageTitle: "Pricing", URL: "https://example.com/pricing"}, h.p.Calls()[2].Args[0])
	assert.Empty(t, h.events.take())
	assert.Equal(t, 1, h.logs.FilterMessage("Page view not sent").Len())
}

type panickingInit struct {
	*providertest.Provider
}

func (p panickingInit) Initialize(string, provider.Continuation[struct{}]) {
	panic("sdk not linked")
}

func TestInitializePanicBecomesFailure(t *testing.T) {
	fake := providertest.New()
	h := newHarness(t, panickingInit{fake})

	h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	h.sync()

	events := h.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventInitializeFailure, events[0].Name)
	assert.Contains(t, events[0].Payload["error"], "sdk not linked")
	initialized, _ := h.snapshot()
	assert.False(t, initialized)
}

type faultyListeners struct {
	*providertest.Provider
	failAdd    bool
	failRemove bool
}

func (p *faultyListeners) AddEventListener(l provider.Listener) {
	if p.failAdd {
		panic("observer table full")
	}
	p.Provider.AddEventListener(l)
}

func (p *faultyListeners) RemoveEventListener(l provider.Listener) {
	if p.failRemove {
		panic("observer missing")
	}
	p.Provider.RemoveEventListener(l)
}

func TestSubscribeFaultStillReportsInitialized(t *testing.T) {
	fake := providertest.New()
	h := newHarness(t, &faultyListeners{Provider: fake, failAdd: true})
	h.p = fake

	h.initialize()

	initialized, _ := h.snapshot()
	assert.True(t, initialized)
	state, err := h.c.ListenerState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, listener.Unsubscribed, state)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.providerFaults.WithLabelValues("addEventListener")))
	assert.Equal(t, 1, h.logs.FilterMessage("Event listener not subscribed").Len())

	// invalidate still tears the provider down without a registration.
	resp := h.do(protocol.MethodInvalidate, nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, fake.CallCount("invalidate"))
}

func TestUnsubscribeFaultStillInvalidates(t *testing.T) {
	fake := providertest.New()
	p := &faultyListeners{Provider: fake, failRemove: true}
	h := newHarness(t, p)
	h.p = fake
	h.initialize()
	reg := h.registration()

	resp := h.do(protocol.MethodInvalidate, nil)
	require.Nil(t, resp.Error)

	initialized, loggedIn := h.snapshot()
	assert.False(t, initialized)
	assert.False(t, loggedIn)
	assert.Equal(t, 1, fake.CallCount("invalidate"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.providerFaults.WithLabelValues("removeEventListener")))
	assert.Equal(t, 1, h.logs.FilterMessage("Event listener removal failed").Len())

	// Events through the registration the provider kept are not delivered.
	fake.EmitTo(reg, provider.UnreadCountChanged(7))
	h.sync()
	assert.Empty(t, h.events.take())

	// A fresh initialize works after the failed removal.
	p.failRemove = false
	resp = h.do(protocol.MethodInitialize, protocol.Args{"channelKey": "abc"})
	require.Nil(t, resp.Error)
	assert.Equal(t, 2, fake.CallCount("initialize"))
}

func TestLoopMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newFakeHarness(t, WithMetrics(NewMetrics(reg)))
	h.do(protocol.MethodIsInitialized, nil)

	n, err := testutil.GatherAndCount(reg,
		"bridge_mainloop_pending_tasks",
		"bridge_mainloop_tasks_total",
		"bridge_mainloop_task_panics_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, testutil.ToFloat64(h.c.metrics.commands.WithLabelValues("isInitialized", OutcomeDispatched)), 1.0)
}

func TestCommandTimeout(t *testing.T) {
	loop := mainloop.New("test", zap.NewNop())
	h := newFakeHarness(t, WithLoop(loop))
	h.c.cfg.CommandTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	require.NoError(t, loop.Post(func() { <-release }))

	resp := h.do(protocol.MethodIsInitialized, nil)
	close(release)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeTimeout, resp.Error.Code)
}

func TestHandleAfterStop(t *testing.T) {
	h := newFakeHarness(t)
	h.initialize()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.c.Stop(ctx))
	assert.Equal(t, 1, h.p.CallCount("invalidate"))
	assert.Equal(t, 0, h.p.ListenerCount())

	resp := h.c.Handle(context.Background(), protocol.NewCommand(protocol.MethodIsInitialized, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ErrCodeBridgeError, resp.Error.Code)
}

func TestConcurrentCommandsKeepInvariant(t *testing.T) {
	h := newFakeHarness(t)

	var stop atomic.Bool
	completerDone := make(chan struct{})
	go func() {
		defer close(completerDone)
		for !stop.Load() {
			_ = h.p.CompleteInitialize(nil)
			_ = h.p.CompleteLogin(&provider.User{ID: "u"}, nil)
			_ = h.p.CompleteLogout(nil)
			time.Sleep(time.Millisecond)
		}
	}()

	methods := []protocol.Method{
		protocol.MethodInitialize,
		protocol.MethodLoginUser,
		protocol.MethodLogoutUser,
		protocol.MethodInvalidate,
		protocol.MethodGetUnreadMessageCount,
	}
	args := protocol.Args{"channelKey": "abc", "jwt": "jwt1"}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				method := methods[(g+i)%len(methods)]
				resp := h.c.Handle(context.Background(), protocol.NewCommand(method, args))
				assert.Nil(t, resp.Error)

				snap, err := h.c.Snapshot(context.Background())
				if assert.NoError(t, err) {
					assert.False(t, snap.LoggedIn && !snap.Initialized, "loggedIn without initialized")
				}
			}
		}(g)
	}
	wg.Wait()
	stop.Store(true)
	<-completerDone
	h.sync()

	initialized, loggedIn := h.snapshot()
	assert.False(t, loggedIn && !initialized)
	assert.LessOrEqual(t, h.p.ListenerCount(), 1)
}
