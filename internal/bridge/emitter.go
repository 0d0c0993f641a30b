package bridge

import "github.com/zlc_ai/messaging-bridge/internal/protocol"

// Emitter delivers outbound events to the host. Emit is always called from
// the bridge's main loop, one event at a time, in emission order.
type Emitter interface {
	Emit(event *protocol.Event)
}

type discard struct{}

func (discard) Emit(*protocol.Event) {}
