// Package transport carries bridge commands and events between the host
// application and the bridge.
//
// Every transport speaks the same JSON frames: the host sends a
// protocol.Command, the bridge replies with a protocol.Response and pushes
// protocol.Event frames as they are emitted.
package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/protocol"
)

// Handler executes a host command.
type Handler interface {
	Handle(ctx context.Context, cmd *protocol.Command) *protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd *protocol.Command) *protocol.Response

func (f HandlerFunc) Handle(ctx context.Context, cmd *protocol.Command) *protocol.Response {
	return f(ctx, cmd)
}

// Transport defines the interface for transport implementations.
type Transport interface {
	// Start starts the transport.
	Start(ctx context.Context) error
	// Stop stops the transport.
	Stop(ctx context.Context) error
	// Emit queues an event for the host. It must not block.
	Emit(event *protocol.Event)
}

// Group fans events out to several transports and starts and stops them
// together.
type Group struct {
	logger *zap.Logger

	mu         sync.RWMutex
	transports []Transport
}

// NewGroup creates a group over ts.
func NewGroup(logger *zap.Logger, ts ...Transport) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		logger:     logger,
		transports: ts,
	}
}

// Add appends t to the group.
func (g *Group) Add(t Transport) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transports = append(g.transports, t)
}

// Len returns the number of transports.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.transports)
}

// Emit hands event to every transport in order.
func (g *Group) Emit(event *protocol.Event) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.transports {
		t.Emit(event)
	}
}

// Start starts every transport. On failure, transports already started are
// stopped again.
func (g *Group) Start(ctx context.Context) error {
	g.mu.RLock()
	ts := append([]Transport(nil), g.transports...)
	g.mu.RUnlock()

	for i, t := range ts {
		if err := t.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				err = multierr.Append(err, ts[j].Stop(ctx))
			}
			return fmt.Errorf("start transport %d: %w", i, err)
		}
	}
	g.logger.Info("Transports started", zap.Int("count", len(ts)))
	return nil
}

// Stop stops every transport in reverse order and returns all failures.
func (g *Group) Stop(ctx context.Context) error {
	g.mu.RLock()
	ts := append([]Transport(nil), g.transports...)
	g.mu.RUnlock()

	var err error
	for i := len(ts) - 1; i >= 0; i-- {
		err = multierr.Append(err, ts[i].Stop(ctx))
	}
	return err
}
