package gateway

import (
	"context"
	"time"

	"bufproto/internal/gateway/gwmsg"
)

// inboundQueueCapacity bounds the AppRunner's inbound channel. The queue is
// single-producer (the Connection) / single-consumer (the application
// task); a generous buffer keeps the Connection's read
// loop from blocking on a slow application under normal operation.
const inboundQueueCapacity = 32

// appMessageSink is the narrow surface an AppRunner needs to forward the
// application's outbound messages without knowing whether the connection is
// HTTP or WebSocket; the Connection implements it and dispatches to
// whichever bridge is currently active.
type appMessageSink interface {
	OnAppMessage(ctx context.Context, msg gwmsg.Message) error
}

// AppRunner spawns the application task, owns its inbound message queue,
// and exposes the receive/send callables the task is driven with. One
// runner serves one HTTP request, or one WebSocket session.
type AppRunner struct {
	inbound chan gwmsg.Message
	sink    appMessageSink
	cancel  context.CancelFunc
	done    chan error
}

// Start runs app(scope) on its own goroutine, bound to receive/send
// callables that read from inbound and write through sink.
func Start(ctx context.Context, app gwmsg.App, scope gwmsg.Scope, sink appMessageSink) *AppRunner {
	runCtx, cancel := context.WithCancel(ctx)
	r := &AppRunner{
		inbound: make(chan gwmsg.Message, inboundQueueCapacity),
		sink:    sink,
		cancel:  cancel,
		done:    make(chan error, 1),
	}

	handler := app(scope)
	go func() {
		r.done <- handler(runCtx, r.receive, r.send)
	}()
	return r
}

// Enqueue hands msg to the application's inbound queue. It never blocks
// the caller: if the queue is full, a background goroutine keeps trying to
// deliver msg for up to 5 seconds and then drops it.
func (r *AppRunner) Enqueue(msg gwmsg.Message) {
	select {
	case r.inbound <- msg:
	default:
		// Queue full under normal operation would indicate the application
		// is not calling receive(); send best-effort in a new goroutine so
		// the Connection's read loop is never blocked by a stalled app.
		go func() {
			select {
			case r.inbound <- msg:
			case <-time.After(5 * time.Second):
			}
		}()
	}
}

// Cancel stops the application task, used on transport loss.
func (r *AppRunner) Cancel() {
	r.cancel()
}

func (r *AppRunner) receive(ctx context.Context) (gwmsg.Message, error) {
	select {
	case msg := <-r.inbound:
		return msg, nil
	case <-ctx.Done():
		return gwmsg.Message{}, ctx.Err()
	}
}

func (r *AppRunner) send(ctx context.Context, msg gwmsg.Message) error {
	return r.sink.OnAppMessage(ctx, msg)
}
