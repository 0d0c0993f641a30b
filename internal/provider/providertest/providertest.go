// Package providertest provides a recording provider.Provider for tests.
// Asynchronous operations stay pending until the test completes them.
package providertest

import (
	"errors"
	"sync"

	"github.com/zlc_ai/messaging-bridge/internal/provider"
)

// ErrNoPending is returned when completing an operation that has no pending
// continuation.
var ErrNoPending = errors.New("no pending continuation")

// Call records one provider invocation.
type Call struct {
	Op   string
	Args []interface{}
}

// Provider is a scriptable fake.
type Provider struct {
	mu    sync.Mutex
	calls []Call

	listeners []provider.Listener

	pendingInit     []provider.Continuation[struct{}]
	pendingLogin    []provider.Continuation[*provider.User]
	pendingLogout   []provider.Continuation[struct{}]
	pendingPageView []provider.Continuation[struct{}]

	unreadCount int
	unreadErr   error
	unreadPanic bool
	opErr       map[string]error
}

var _ provider.Provider = (*Provider)(nil)

// New returns an empty fake.
func New() *Provider {
	return &Provider{opErr: make(map[string]error)}
}

func (p *Provider) record(op string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: op, Args: args})
}

// Calls returns every recorded call in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns how many times op was invoked.
func (p *Provider) CallCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ListenerCount returns the number of registered listeners.
func (p *Provider) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// SetUnreadCount scripts UnreadMessageCount.
func (p *Provider) SetUnreadCount(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreadCount = n
	p.unreadErr = err
}

// SetUnreadPanic makes UnreadMessageCount panic.
func (p *Provider) SetUnreadPanic(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreadPanic = v
}

// FailOp makes the named synchronous operation return err.
func (p *Provider) FailOp(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opErr[op] = err
}

func (p *Provider) errFor(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opErr[op]
}

func (p *Provider) Name() string { return "providertest" }

func (p *Provider) Initialize(channelKey string, done provider.Continuation[struct{}]) {
	p.record("initialize", channelKey)
	p.mu.Lock()
	p.pendingInit = append(p.pendingInit, done)
	p.mu.Unlock()
}

func (p *Provider) Invalidate() error {
	p.record("invalidate")
	return p.errFor("invalidate")
}

func (p *Provider) LoginUser(jwt string, done provider.Continuation[*provider.User]) {
	p.record("loginUser", jwt)
	p.mu.Lock()
	p.pendingLogin = append(p.pendingLogin, done)
	p.mu.Unlock()
}

func (p *Provider) LogoutUser(done provider.Continuation[struct{}]) {
	p.record("logoutUser")
	p.mu.Lock()
	p.pendingLogout = append(p.pendingLogout, done)
	p.mu.Unlock()
}

func (p *Provider) ShowMessaging(pc provider.PresentationContext) error {
	p.record("showMessaging", pc)
	return p.errFor("showMessaging")
}

func (p *Provider) UnreadMessageCount() (int, error) {
	p.record("getUnreadMessageCount")
	p.mu.Lock()
	n, err, boom := p.unreadCount, p.unreadErr, p.unreadPanic
	p.mu.Unlock()
	if boom {
		panic("unread count unavailable")
	}
	return n, err
}

func (p *Provider) SetConversationTags(tags []string) error {
	p.record("setConversationTags", tags)
	return p.errFor("setConversationTags")
}

func (p *Provider) ClearConversationTags() error {
	p.record("clearConversationTags")
	return p.errFor("clearConversationTags")
}

func (p *Provider) SetConversationFields(fields map[string]string) error {
	p.record("setConversationFields", fields)
	return p.errFor("setConversationFields")
}

func (p *Provider) ClearConversationFields() error {
	p.record("clearConversationFields")
	return p.errFor("clearConversationFields")
}

func (p *Provider) SendPageView(view provider.PageView, done provider.Continuation[struct{}]) {
	p.record("sendPageView", view)
	p.mu.Lock()
	p.pendingPageView = append(p.pendingPageView, done)
	p.mu.Unlock()
}

func (p *Provider) AddEventListener(l provider.Listener) {
	p.record("addEventListener", l)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Provider) RemoveEventListener(l provider.Listener) {
	p.record("removeEventListener", l)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.listeners {
		if existing == l {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to every registered listener on the calling goroutine.
func (p *Provider) Emit(ev provider.Event) {
	p.mu.Lock()
	listeners := append([]provider.Listener(nil), p.listeners...)
	p.mu.Unlock()
	for _, l := range listeners {
		l.OnEvent(ev)
	}
}

// EmitTo delivers ev to l regardless of registration, as an SDK that
// delivers late would.
func (p *Provider) EmitTo(l provider.Listener, ev provider.Event) {
	l.OnEvent(ev)
}

func popFirst[T any](mu *sync.Mutex, list *[]provider.Continuation[T]) (provider.Continuation[T], error) {
	mu.Lock()
	defer mu.Unlock()
	if len(*list) == 0 {
		return nil, ErrNoPending
	}
	c := (*list)[0]
	*list = (*list)[1:]
	return c, nil
}

// CompleteInitialize resolves the oldest pending initialize.
func (p *Provider) CompleteInitialize(err error) error {
	c, perr := popFirst(&p.mu, &p.pendingInit)
	if perr != nil {
		return perr
	}
	if err != nil {
		c.OnFailure(err)
	} else {
		c.OnSuccess(struct{}{})
	}
	return nil
}

// CompleteLogin resolves the oldest pending login.
func (p *Provider) CompleteLogin(user *provider.User, err error) error {
	c, perr := popFirst(&p.mu, &p.pendingLogin)
	if perr != nil {
		return perr
	}
	if err != nil {
		c.OnFailure(err)
	} else {
		c.OnSuccess(user)
	}
	return nil
}

// CompleteLogout resolves the oldest pending logout.
func (p *Provider) CompleteLogout(err error) error {
	c, perr := popFirst(&p.mu, &p.pendingLogout)
	if perr != nil {
		return perr
	}
	if err != nil {
		c.OnFailure(err)
	} else {
		c.OnSuccess(struct{}{})
	}
	return nil
}

// CompletePageView resolves the oldest pending page view.
func (p *Provider) CompletePageView(err error) error {
	c, perr := popFirst(&p.mu, &p.pendingPageView)
	if perr != nil {
		return perr
	}
	if err != nil {
		c.OnFailure(err)
	} else {
		c.OnSuccess(struct{}{})
	}
	return nil
}
