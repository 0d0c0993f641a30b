package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/protocol"
)

// PolledEvent is an event with its position in the polling buffer.
type PolledEvent struct {
	Seq   uint64          `json:"seq"`
	Event *protocol.Event `json:"event"`
}

// PollResponse is the body returned by the events endpoint.
type PollResponse struct {
	Events []PolledEvent `json:"events"`
	// Next is the sequence number to pass as since on the next poll.
	Next uint64 `json:"next"`
	// Truncated is set when events after since were evicted before this poll.
	Truncated bool `json:"truncated,omitempty"`
}

// PollingServer serves commands over plain HTTP and buffers events for
// hosts that poll for them.
type PollingServer struct {
	handler     Handler
	logger      *zap.Logger
	maxBuffered int

	mu     sync.RWMutex
	buffer []PolledEvent
	seq    uint64
}

// NewPollingServer creates a new polling server keeping at most maxBuffered
// events.
func NewPollingServer(maxBuffered int, handler Handler, logger *zap.Logger) *PollingServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBuffered <= 0 {
		maxBuffered = 1000
	}
	return &PollingServer{
		handler:     handler,
		logger:      logger.Named("polling"),
		maxBuffered: maxBuffered,
		buffer:      make([]PolledEvent, 0, maxBuffered),
	}
}

// Start starts the polling server.
func (ps *PollingServer) Start(ctx context.Context) error {
	ps.logger.Info("Polling server started", zap.Int("maxBuffered", ps.maxBuffered))
	return nil
}

// Stop stops the polling server.
func (ps *PollingServer) Stop(ctx context.Context) error {
	ps.logger.Info("Polling server stopped")
	return nil
}

// Emit appends event to the buffer, evicting the oldest event when full.
func (ps *PollingServer) Emit(event *protocol.Event) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.seq++
	ps.buffer = append(ps.buffer, PolledEvent{Seq: ps.seq, Event: event})
	if len(ps.buffer) > ps.maxBuffered {
		ps.buffer = ps.buffer[len(ps.buffer)-ps.maxBuffered:]
	}
}

// Since returns the buffered events with a sequence number above since.
func (ps *PollingServer) Since(since uint64) PollResponse {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	resp := PollResponse{Events: []PolledEvent{}, Next: ps.seq}
	if since > ps.seq {
		// The host is ahead of us, e.g. after a bridge restart.
		since = 0
	}
	if len(ps.buffer) > 0 && ps.buffer[0].Seq > since+1 {
		resp.Truncated = true
	}
	for _, e := range ps.buffer {
		if e.Seq > since {
			resp.Events = append(resp.Events, e)
		}
	}
	return resp
}

// QueueSize returns the number of buffered events.
func (ps *PollingServer) QueueSize() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.buffer)
}

// CommandHandler returns an http.Handler accepting command frames by POST.
func (ps *PollingServer) CommandHandler() http.Handler {
	return http.HandlerFunc(ps.handleCommand)
}

// EventsHandler returns an http.Handler serving buffered events by GET.
func (ps *PollingServer) EventsHandler() http.Handler {
	return http.HandlerFunc(ps.handlePoll)
}

func (ps *PollingServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	resp := handleFrame(r.Context(), ps.handler, data)
	status := http.StatusOK
	if resp.Error != nil && resp.Error.Code == protocol.ErrCodeProtocolError {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp, ps.logger)
}

func (ps *PollingServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		since = v
	}

	writeJSON(w, http.StatusOK, ps.Since(since), ps.logger)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", zap.Error(err))
	}
}
