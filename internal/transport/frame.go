package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zlc_ai/messaging-bridge/internal/protocol"
)

// decodeCommand parses a command frame. A frame that cannot be parsed yields
// a protocol error and, when recoverable, the frame's ID.
func decodeCommand(data []byte) (*protocol.Command, *protocol.Error) {
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, protocol.NewError(protocol.ErrCodeProtocolError, fmt.Sprintf("invalid command frame: %v", err))
	}
	if cmd.Method == "" {
		return &cmd, protocol.NewError(protocol.ErrCodeProtocolError, "command frame has no method")
	}
	cmd.EnsureID()
	return &cmd, nil
}

// handleFrame decodes a command frame and runs it through h.
func handleFrame(ctx context.Context, h Handler, data []byte) *protocol.Response {
	cmd, perr := decodeCommand(data)
	if perr != nil {
		id := ""
		if cmd != nil {
			id = cmd.ID
		}
		return protocol.NewErrorResponse(id, perr)
	}
	if h == nil {
		return protocol.NewErrorResponse(cmd.ID, protocol.NewError(protocol.ErrCodeBridgeError, "no command handler"))
	}
	return h.Handle(ctx, cmd)
}
