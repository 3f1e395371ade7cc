package exchange

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
)

// TCPExchange reads newline-delimited price updates from a raw TCP feed.
type TCPExchange struct {
	name   string
	host   string
	port   int
	conn   net.Conn
	parser *lineParser
	log    *slog.Logger
	cancel context.CancelFunc
	mu     sync.RWMutex
}

func NewTCPExchange(name, host string, port int, log *slog.Logger) port.ExchangePort {
	return &TCPExchange{
		name:   name,
		host:   host,
		port:   port,
		parser: newLineParser(name),
		log:    log,
	}
}

func (t *TCPExchange) Name() string {
	return t.name
}

func (t *TCPExchange) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	t.log.Info("connecting to TCP exchange", "exchange", t.name, "addr", addr)

	dialer := net.Dialer{
		Timeout: 5 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s at %s: %w", t.name, addr, err)
	}

	if t.conn != nil {
		t.conn.Close()
	}

	t.conn = conn
	t.log.Info("connected to TCP exchange", "exchange", t.name, "addr", addr)
	return nil
}

// Subscribe filters the feed client side; the TCP feed has no subscription protocol.
func (t *TCPExchange) Subscribe(marketIDs []model.MarketID) error {
	t.parser.subscribe(marketIDs)
	return nil
}

func (t *TCPExchange) ReadPrices(ctx context.Context) (<-chan model.PriceUpdate, <-chan error) {
	out := make(chan model.PriceUpdate)
	errCh := make(chan error, 1)

	readCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.cancel = cancel
	currentConn := t.conn
	t.mu.Unlock()

	if currentConn == nil {
		cancel()
		errCh <- fmt.Errorf("exchange %s is not connected", t.name)
		close(out)
		close(errCh)
		return out, errCh
	}

	// unblock the reader when the context ends
	go func() {
		<-readCtx.Done()
		currentConn.Close()
	}()

	go func() {
		defer close(out)
		defer close(errCh)
		defer cancel()

		scanner := bufio.NewScanner(currentConn)
		lineCount := 0
		errorCount := 0

		for scanner.Scan() {
			line := scanner.Text()
			update, ok := t.parser.parse(line)
			if !ok {
				if line != "" {
					errorCount++
					t.log.Debug("skipping line", "exchange", t.name, "line_preview", truncate(line, 50))
				}
				continue
			}

			lineCount++
			if lineCount%100 == 0 {
				t.log.Debug("prices read progress", "exchange", t.name, "count", lineCount)
			}

			select {
			case out <- update:
			case <-readCtx.Done():
				return
			}
		}

		if readCtx.Err() != nil {
			t.log.Info("read prices stopped", "exchange", t.name, "lines_read", lineCount, "errors", errorCount)
			return
		}

		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("connection closed by %s", t.name)
		}
		t.log.Warn("TCP exchange read failed, reconnect required", "exchange", t.name, "error", err)
		errCh <- fmt.Errorf("read error: %w", err)
	}()

	return out, errCh
}

func (t *TCPExchange) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Info("closing TCP exchange", "exchange", t.name)

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}

	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("failed to close %s: %w", t.name, err)
		}
	}

	return nil
}
