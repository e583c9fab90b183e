package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/ReplyDesk/internal/models"
)

// Relay consumes inbound messages from an asynchronous transport,
// produces replies through the handler, and sends them back through the
// same transport. It is the event-driven counterpart of the Twilio
// webhook: the WhatsApp channel has no request/response cycle to answer
// in, so the relay closes the loop.
type Relay struct {
	service Service
	handler Handler
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewRelay creates a Relay between the given transport and handler.
func NewRelay(service Service, handler Handler) *Relay {
	return &Relay{
		service: service,
		handler: handler,
	}
}

// Start starts the transport and the processing loop. It returns once
// the loop is running; processing continues until Stop or context
// cancellation.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.service.Start(ctx); err != nil {
		return err
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer slog.Info("Relay stopped processing")

		for {
			select {
			case msg, ok := <-r.service.Responses():
				if !ok {
					slog.Debug("Relay responses channel closed")
					return
				}
				r.process(ctx, msg)

			case <-ctx.Done():
				slog.Debug("Relay stopping due to context cancellation")
				return
			}
		}
	}()

	slog.Info("Relay processing started")
	return nil
}

// process answers one inbound message. Errors are logged, never
// propagated; one bad message must not stall the loop.
func (r *Relay) process(ctx context.Context, msg models.InboundMessage) {
	ex, err := r.handler.Handle(ctx, msg)
	if err != nil {
		slog.Error("Relay failed to handle message", "from", msg.From, "error", err)
		return
	}

	if err := r.service.SendMessage(ctx, msg.From, ex.ReplyText); err != nil {
		slog.Error("Relay failed to send reply", "from", msg.From, "error", err)
		return
	}

	slog.Debug("Relay replied", "from", msg.From, "rule", ex.Rule)
}

// Stop stops the processing loop and the underlying transport.
func (r *Relay) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	err := r.service.Stop()
	r.wg.Wait()
	return err
}
