// Package protocol defines the command/event protocol spoken between the host
// application and the messaging bridge.
// Commands flow host -> bridge and are answered by exactly one Response.
// Events flow bridge -> host and are never answered.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Method names a host command.
type Method string

const (
	MethodInitialize              Method = "initialize"
	MethodInvalidate              Method = "invalidate"
	MethodShow                    Method = "show"
	MethodLoginUser               Method = "loginUser"
	MethodLogoutUser              Method = "logoutUser"
	MethodGetUnreadMessageCount   Method = "getUnreadMessageCount"
	MethodIsInitialized           Method = "isInitialized"
	MethodIsLoggedIn              Method = "isLoggedIn"
	MethodSetConversationTags     Method = "setConversationTags"
	MethodClearConversationTags   Method = "clearConversationTags"
	MethodSetConversationFields   Method = "setConversationFields"
	MethodClearConversationFields Method = "clearConversationFields"
	MethodSendPageViewEvent       Method = "sendPageViewEvent"
)

// EventName names an outbound event.
type EventName string

const (
	EventInitializeSuccess         EventName = "initialize_success"
	EventInitializeFailure         EventName = "initialize_failure"
	EventLoginSuccess              EventName = "login_success"
	EventLoginFailure              EventName = "login_failure"
	EventLogoutSuccess             EventName = "logout_success"
	EventLogoutFailure             EventName = "logout_failure"
	EventUnreadMessageCountChanged EventName = "unread_message_count_changed"
	EventAuthenticationFailed      EventName = "authentication_failed"
	EventUnknown                   EventName = "unknown_event"
)

// Frame types distinguish responses from events on a shared channel.
const (
	FrameTypeResponse = "response"
	FrameTypeEvent    = "event"
)

// Command is an inbound request from the host.
type Command struct {
	// ID correlates the command with its Response.
	ID string `json:"id"`
	// Method is the command name.
	Method Method `json:"method"`
	// Args holds the command arguments. May be nil.
	Args Args `json:"args,omitempty"`
}

// NewCommand creates a command with a generated ID.
func NewCommand(method Method, args Args) *Command {
	return &Command{
		ID:     uuid.New().String(),
		Method: method,
		Args:   args,
	}
}

// EnsureID assigns a generated ID if the host did not supply one.
func (c *Command) EnsureID() {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
}

// Event is a one-way notification from the bridge to the host.
type Event struct {
	Type string `json:"type"`
	// ID is a globally unique event identifier.
	ID string `json:"id"`
	// Name is the event name.
	Name EventName `json:"event"`
	// Payload is the event payload. A nil payload is encoded as null.
	Payload map[string]interface{} `json:"payload"`
	// Timestamp is the Unix timestamp in milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewEvent creates an event with a generated ID and the current timestamp.
func NewEvent(name EventName, payload map[string]interface{}) *Event {
	return &Event{
		Type:      FrameTypeEvent,
		ID:        uuid.New().String(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Response answers exactly one Command.
type Response struct {
	Type string `json:"type"`
	// ID is the ID of the command being answered.
	ID string `json:"id"`
	// Result is the command result; null for commands without a return value.
	Result interface{} `json:"result"`
	// Error is set when the command could not be dispatched.
	Error *Error `json:"error,omitempty"`
}

// NewResponse creates a successful response for the given command ID.
func NewResponse(id string, result interface{}) *Response {
	return &Response{
		Type:   FrameTypeResponse,
		ID:     id,
		Result: result,
	}
}

// NewErrorResponse creates a failed response for the given command ID.
func NewErrorResponse(id string, err *Error) *Response {
	return &Response{
		Type:  FrameTypeResponse,
		ID:    id,
		Error: err,
	}
}

// Error represents a structured protocol error.
type Error struct {
	// Code is the error code.
	Code string `json:"code"`
	// Message is the human-readable error message.
	Message string `json:"message"`
	// Details contains additional error details.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeProtocolError    = "PROTOCOL_ERROR"
	ErrCodeInvalidArguments = "INVALID_ARGUMENTS"
	ErrCodeNotImplemented   = "NOT_IMPLEMENTED"
	ErrCodeBridgeError      = "BRIDGE_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
)

// NewError creates a new protocol error.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}
