package bridge

import "errors"

var (
	// ErrNotInitialized rejects a command that requires an initialized bridge.
	ErrNotInitialized = errors.New("messaging needs to be initialized first")

	// ErrAlreadyInitialized short-circuits a repeated initialize.
	ErrAlreadyInitialized = errors.New("messaging is already initialized")

	// ErrNotActive short-circuits invalidate on an uninitialized bridge.
	ErrNotActive = errors.New("messaging is already in an invalid state")
)

// errorMessage returns a description for a failure event that requires a
// string.
func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// optionalError returns err's message, or nil so the payload encodes null.
func optionalError(err error) interface{} {
	if err == nil {
		return nil
	}
	return err.Error()
}
