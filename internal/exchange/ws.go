// ws.go implements the single-connection ticker watch shared by all venue
// adapters. Each adapter supplies a wsSpec (URL, subscribe payload, frame
// parser, keepalive) and watchTicker handles the rest: dial, subscribe,
// read loop with deadline, ping loop, and channel delivery.
//
// A watch covers exactly one (venue, symbol) stream and makes no attempt
// to reconnect: the channel is closed on any failure and the price stream
// layer owns the retry schedule. A read deadline (90s) ensures silent
// server failures surface within ~2 missed pings.
package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crossarb/pkg/types"
)

const (
	pingInterval = 50 * time.Second // how often we send keepalive frames
	readTimeout  = 90 * time.Second // ~2 missed pings triggers teardown
	writeTimeout = 10 * time.Second // deadline for outgoing messages
	tickBuffer   = 16               // per-symbol tick channel depth
)

// wsSpec describes one venue's ticker stream for a single native symbol.
type wsSpec struct {
	url       string
	subscribe interface{}                          // JSON payload sent after dial
	parse     func(data []byte) (types.Tick, bool) // frame → tick, false to skip
	ping      func(w *wsWriter) error              // venue keepalive, nil for protocol ping
	// control, when set, sees every raw frame before parse and may reply
	// on the connection (server-initiated ping/pong). Returning true
	// consumes the frame.
	control func(w *wsWriter, data []byte) bool
}

// wsWriter serializes writes on a shared connection. The ping loop and the
// subscribe call race otherwise.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) writeMessage(msgType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(msgType, data)
}

// watchTicker dials the stream, subscribes, and delivers ticks until the
// stream fails or ctx is cancelled. The returned channel is always closed
// on exit. Dial errors are returned synchronously so callers can fall
// back to REST without waiting.
func watchTicker(ctx context.Context, venue, symbol string, spec wsSpec, logger *slog.Logger) (<-chan types.Tick, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, spec.url, nil)
	if err != nil {
		return nil, wrapErr(KindTransient, venue, "ws_dial", err)
	}

	w := &wsWriter{conn: conn}
	if err := w.writeJSON(spec.subscribe); err != nil {
		conn.Close()
		return nil, wrapErr(KindTransient, venue, "ws_subscribe", err)
	}

	ticks := make(chan types.Tick, tickBuffer)
	log := logger.With("component", "ws", "venue", venue, "symbol", symbol)

	go func() {
		defer close(ticks)
		defer conn.Close()

		pingCtx, pingCancel := context.WithCancel(ctx)
		defer pingCancel()
		go pingLoop(pingCtx, w, spec.ping, log)

		// Tear the connection down when ctx ends so ReadMessage unblocks.
		go func() {
			<-pingCtx.Done()
			conn.Close()
		}()

		log.Debug("ticker stream connected")
		for {
			conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("ticker stream closed", "error", err)
				}
				return
			}

			if spec.control != nil && spec.control(w, msg) {
				continue
			}

			tick, ok := spec.parse(msg)
			if !ok {
				continue
			}
			select {
			case ticks <- tick:
			default:
				// Consumer lagging: drop the oldest tick, keep the newest.
				select {
				case <-ticks:
				default:
				}
				select {
				case ticks <- tick:
				default:
				}
			}
		}
	}()

	return ticks, nil
}

func pingLoop(ctx context.Context, w *wsWriter, ping func(*wsWriter) error, log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if ping != nil {
				err = ping(w)
			} else {
				err = w.writeMessage(websocket.PingMessage, nil)
			}
			if err != nil {
				log.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// textPing returns a ping func that sends a literal text frame, for venues
// that use application-level keepalives instead of protocol pings.
func textPing(payload string) func(*wsWriter) error {
	return func(w *wsWriter) error {
		return w.writeMessage(websocket.TextMessage, []byte(payload))
	}
}

// jsonPing returns a ping func that sends a JSON keepalive object.
func jsonPing(payload interface{}) func(*wsWriter) error {
	return func(w *wsWriter) error {
		return w.writeJSON(payload)
	}
}
