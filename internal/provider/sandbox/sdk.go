package sandbox

import (
	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/provider"
	"github.com/zlc_ai/messaging-bridge/internal/provider/callback"
	"github.com/zlc_ai/messaging-bridge/internal/provider/result"
)

// CallbackSDK exposes an Engine through the closure-based native surface.
// Like the SDK it stands in for, it panics when queried without an instance.
type CallbackSDK struct {
	engine *Engine
}

var _ callback.SDK = (*CallbackSDK)(nil)

// NewCallbackSDK wraps engine.
func NewCallbackSDK(engine *Engine) *CallbackSDK {
	return &CallbackSDK{engine: engine}
}

func (s *CallbackSDK) Initialize(channelKey string, success func(), failure func(err error)) {
	s.engine.initialize(channelKey, func(err error) {
		if err != nil {
			failure(err)
			return
		}
		success()
	})
}

func (s *CallbackSDK) Invalidate() { s.engine.invalidate() }

func (s *CallbackSDK) LoginUser(jwt string, success func(user *provider.User), failure func(err error)) {
	s.engine.login(jwt, func(user *provider.User, err error) {
		if err != nil {
			failure(err)
			return
		}
		success(user)
	})
}

func (s *CallbackSDK) LogoutUser(success func(), failure func(err error)) {
	s.engine.logout(func(err error) {
		if err != nil {
			failure(err)
			return
		}
		success()
	})
}

func (s *CallbackSDK) ShowMessaging(flags int) {
	if !s.engine.present() {
		panic(ErrNotInitialized)
	}
	s.engine.logger.Debug("Messaging shown", zap.Int("flags", flags))
}

func (s *CallbackSDK) GetUnreadMessageCount() int {
	n, ok := s.engine.unreadCount()
	if !ok {
		panic(ErrNotInitialized)
	}
	return n
}

func (s *CallbackSDK) SetConversationTags(tags []string)              { s.engine.setTags(tags) }
func (s *CallbackSDK) ClearConversationTags()                         { s.engine.clearTags() }
func (s *CallbackSDK) SetConversationFields(fields map[string]string) { s.engine.setFields(fields) }
func (s *CallbackSDK) ClearConversationFields()                       { s.engine.clearFields() }

func (s *CallbackSDK) AddEventListener(l callback.EventListener) {
	s.engine.observe(l, func(n notice) {
		switch n.kind {
		case noticeUnreadChanged:
			l.OnEvent(callback.UnreadMessageCountChanged{})
		case noticeAuthFailed:
			l.OnEvent(callback.AuthenticationFailed{Err: n.err})
		case noticeFieldValidation:
			l.OnEvent(callback.FieldValidationFailed{Errors: n.errors})
		}
	})
}

func (s *CallbackSDK) RemoveEventListener(l callback.EventListener) { s.engine.unobserve(l) }

// ResultSDK exposes an Engine through the completion-based native surface.
type ResultSDK struct {
	engine *Engine
}

var _ result.SDK = (*ResultSDK)(nil)

// NewResultSDK wraps engine.
func NewResultSDK(engine *Engine) *ResultSDK {
	return &ResultSDK{engine: engine}
}

func completion(fn func(result.Result[struct{}])) func(error) {
	return func(err error) {
		if err != nil {
			fn(result.Failure[struct{}](err))
			return
		}
		fn(result.Success(struct{}{}))
	}
}

func (s *ResultSDK) Initialize(channelKey string, fn func(result.Result[struct{}])) {
	s.engine.initialize(channelKey, completion(fn))
}

func (s *ResultSDK) Invalidate() { s.engine.invalidate() }

func (s *ResultSDK) LoginUser(jwt string, fn func(result.Result[*provider.User])) {
	s.engine.login(jwt, func(user *provider.User, err error) {
		if err != nil {
			fn(result.Failure[*provider.User](err))
			return
		}
		fn(result.Success(user))
	})
}

func (s *ResultSDK) LogoutUser(fn func(result.Result[struct{}])) {
	s.engine.logout(completion(fn))
}

func (s *ResultSDK) PresentMessaging(style string) bool {
	if !s.engine.present() {
		return false
	}
	s.engine.logger.Debug("Messaging presented", zap.String("style", style))
	return true
}

func (s *ResultSDK) UnreadMessageCount() (int, bool) { return s.engine.unreadCount() }

func (s *ResultSDK) SetConversationTags(tags []string)              { s.engine.setTags(tags) }
func (s *ResultSDK) ClearConversationTags()                         { s.engine.clearTags() }
func (s *ResultSDK) SetConversationFields(fields map[string]string) { s.engine.setFields(fields) }
func (s *ResultSDK) ClearConversationFields()                       { s.engine.clearFields() }

func (s *ResultSDK) SendPageView(view provider.PageView, fn func(result.Result[struct{}])) {
	s.engine.sendPageView(view, completion(fn))
}

// AddEventObserver registers handler under observer. Field validation
// failures have no native representation here and are not delivered.
func (s *ResultSDK) AddEventObserver(observer interface{}, handler func(result.Event)) {
	s.engine.observe(observer, func(n notice) {
		switch n.kind {
		case noticeUnreadChanged:
			handler(result.UnreadMessageCountChanged{Count: n.count})
		case noticeAuthFailed:
			handler(result.AuthenticationFailed{Err: n.err})
		default:
			s.engine.logger.Debug("Notice not representable on result platform", zap.Int("kind", int(n.kind)))
		}
	})
}

func (s *ResultSDK) RemoveEventObserver(observer interface{}) { s.engine.unobserve(observer) }
