package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
)

type subscribeMessage struct {
	Op      string           `json:"op"`
	Markets []model.MarketID `json:"markets"`
}

// WSExchange reads price updates from a WebSocket feed. Every text frame
// carries one update in the same formats as the TCP feed.
type WSExchange struct {
	name    string
	url     string
	conn    *websocket.Conn
	parser  *lineParser
	markets []model.MarketID
	log     *slog.Logger
	cancel  context.CancelFunc
	mu      sync.Mutex
}

func NewWSExchange(name, url string, log *slog.Logger) port.ExchangePort {
	return &WSExchange{
		name:   name,
		url:    url,
		parser: newLineParser(name),
		log:    log,
	}
}

func (e *WSExchange) Name() string {
	return e.name
}

func (e *WSExchange) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Info("connecting to WS exchange", "exchange", e.name, "url", e.url)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s at %s: %w", e.name, e.url, err)
	}

	if e.conn != nil {
		e.conn.Close()
	}
	e.conn = conn

	// resubscribe after a reconnect
	if len(e.markets) > 0 {
		if err := e.sendSubscribe(); err != nil {
			return err
		}
	}

	e.log.Info("connected to WS exchange", "exchange", e.name)
	return nil
}

// Subscribe asks the feed for marketIDs and filters anything else it sends.
func (e *WSExchange) Subscribe(marketIDs []model.MarketID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.markets = append([]model.MarketID(nil), marketIDs...)
	e.parser.subscribe(marketIDs)

	if e.conn == nil {
		return nil
	}
	return e.sendSubscribe()
}

func (e *WSExchange) sendSubscribe() error {
	msg := subscribeMessage{Op: "subscribe", Markets: e.markets}
	if err := e.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to subscribe on %s: %w", e.name, err)
	}
	e.log.Info("subscribed to markets", "exchange", e.name, "markets", len(e.markets))
	return nil
}

func (e *WSExchange) ReadPrices(ctx context.Context) (<-chan model.PriceUpdate, <-chan error) {
	out := make(chan model.PriceUpdate)
	errCh := make(chan error, 1)

	readCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.cancel = cancel
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		cancel()
		errCh <- fmt.Errorf("exchange %s is not connected", e.name)
		close(out)
		close(errCh)
		return out, errCh
	}

	go func() {
		<-readCtx.Done()
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(errCh)
		defer cancel()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() == nil {
					e.log.Warn("WS exchange read failed, reconnect required", "exchange", e.name, "error", err)
					errCh <- fmt.Errorf("read error: %w", err)
				}
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}

			update, ok := e.parser.parse(string(data))
			if !ok {
				continue
			}

			select {
			case out <- update:
			case <-readCtx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func (e *WSExchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Info("closing WS exchange", "exchange", e.name)

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.conn == nil {
		return nil
	}

	_ = e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := e.conn.Close()
	e.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close %s: %w", e.name, err)
	}
	return nil
}
