package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wayneworks/alfred/internal/models"
	"github.com/wayneworks/alfred/internal/store"
)

// MessageEngine turns one inbound message into the ordered list of outbound
// chunks for that channel. Satisfied by flow.Engine.
type MessageEngine interface {
	HandleMessage(ctx context.Context, channelID, text string) ([]string, error)
}

// Router consumes inbound responses from a transport, runs each through the
// conversation engine, and delivers the resulting chunks in order. It also
// drains receipt events into the store.
//
// Each channel gets its own worker: messages on one channel are handled and
// delivered strictly in arrival order, while a slow collaborator call on one
// channel never stalls the others.
type Router struct {
	service Service
	engine  MessageEngine
	store   store.Store

	mu     sync.Mutex
	queues map[string]chan models.Response
}

// NewRouter creates a Router over the given transport, engine, and store.
func NewRouter(service Service, engine MessageEngine, st store.Store) *Router {
	return &Router{
		service: service,
		engine:  engine,
		store:   st,
		queues:  make(map[string]chan models.Response),
	}
}

// Start launches the response and receipt loops. They run until the context
// is cancelled or the transport closes its channels.
func (r *Router) Start(ctx context.Context) {
	go r.runResponses(ctx)
	go r.runReceipts(ctx)
	slog.Info("Router started")
}

// runResponses dispatches inbound messages to their per-channel workers.
func (r *Router) runResponses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Router response loop stopping", "reason", ctx.Err())
			return
		case response, ok := <-r.service.Responses():
			if !ok {
				slog.Debug("Router response channel closed")
				return
			}
			r.dispatch(ctx, response)
		}
	}
}

// dispatch validates the sender and hands the message to that channel's
// worker, creating the worker on first contact. Queue keys are canonical so
// format variants of one sender never land on separate workers.
func (r *Router) dispatch(ctx context.Context, response models.Response) {
	channelID, err := r.service.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("Router dropping response with invalid sender", "error", err, "from", response.From)
		return
	}
	response.From = channelID

	r.mu.Lock()
	queue, ok := r.queues[channelID]
	if !ok {
		queue = make(chan models.Response, DefaultChannelBufferSize)
		r.queues[channelID] = queue
		go r.runChannel(ctx, channelID, queue)
	}
	r.mu.Unlock()

	select {
	case queue <- response:
	default:
		slog.Warn("Router channel queue full, dropping message", "from", channelID)
	}
}

// runChannel handles one channel's messages sequentially, so replies on a
// channel never interleave across turns.
func (r *Router) runChannel(ctx context.Context, channelID string, queue chan models.Response) {
	slog.Debug("Router channel worker started", "channelID", channelID)
	for {
		select {
		case <-ctx.Done():
			return
		case response := <-queue:
			r.handleResponse(ctx, response)
		}
	}
}

func (r *Router) runReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-r.service.Receipts():
			if !ok {
				return
			}
			if err := r.store.AddReceipt(receipt); err != nil {
				slog.Error("Router failed to record receipt", "error", err, "to", receipt.To)
			}
		}
	}
}

// handleResponse runs one inbound message through the engine and sends every
// resulting chunk. Engine errors are logged only; the chunk list already
// carries the user-facing notice for the failure. The sender is already
// canonical when this runs.
func (r *Router) handleResponse(ctx context.Context, response models.Response) {
	channelID := response.From

	if err := r.store.AddResponse(response); err != nil {
		slog.Error("Router failed to record response", "error", err, "from", channelID)
	}

	chunks, err := r.engine.HandleMessage(ctx, channelID, response.Body)
	if err != nil {
		slog.Error("Router engine error", "error", err, "from", channelID)
	}

	for i, chunk := range chunks {
		if err := r.service.SendMessage(ctx, channelID, chunk); err != nil {
			slog.Error("Router failed to send chunk, dropping remainder", "error", err, "to", channelID, "chunk", i, "total", len(chunks))
			return
		}
	}
	if len(chunks) > 0 {
		slog.Debug("Router delivered reply", "to", channelID, "chunks", len(chunks))
	}
}
