// Package transport carries ISO8583 messages to the acquirer host over a
// single multiplexed TCP connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/metrics"
)

var (
	ErrClosed      = errors.New("transport: client closed")
	ErrUnavailable = errors.New("transport: host unavailable")
	ErrNoSTAN      = errors.New("transport: message has no STAN")
	ErrDuplicate   = errors.New("transport: request with the same STAN already in flight")
)

// LateHandler receives responses nobody is waiting for.
type LateHandler func(ctx context.Context, msg *iso8583.Message) error

// Client is a Dispatcher over TCP. Responses are matched to requests by
// response MTI and STAN, so many requests may share the connection.
type Client struct {
	addr         string
	packager     *iso8583.CompiledPackager
	framing      iso8583.LengthIndicatorConfig
	dialTimeout  time.Duration
	writeTimeout time.Duration
	concurrency  int
	breaker      *gobreaker.CircuitBreaker
	metrics      *metrics.Metrics
	late         LateHandler
	logger       *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    net.Conn
	pending map[string]chan *iso8583.Message
	closed  bool
}

type Option func(*Client)

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithBreaker trips the circuit after maxFailures consecutive dial or
// write failures and probes again after openTimeout.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.breaker = c.newBreaker(maxFailures, openTimeout)
	}
}

func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLateHandler routes unmatched responses to fn.
func WithLateHandler(fn LateHandler) Option {
	return func(c *Client) {
		c.late = fn
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(addr string, packager *iso8583.CompiledPackager, opts ...Option) *Client {
	framing := packager.LengthIndicator()
	if framing.Type == iso8583.LengthIndicatorNone {
		framing = iso8583.LengthIndicatorConfig{Type: iso8583.LengthIndicatorBinary, Length: 2}
	}
	c := &Client{
		addr:         addr,
		packager:     packager,
		framing:      framing,
		dialTimeout:  5 * time.Second,
		writeTimeout: 5 * time.Second,
		concurrency:  4,
		logger:       slog.Default(),
		pending:      make(map[string]chan *iso8583.Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = c.newBreaker(5, 30*time.Second)
	}
	c.logger = c.logger.With(slog.String("component", "transport"), slog.String("addr", addr))
	return c
}

func (c *Client) newBreaker(maxFailures uint32, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "acquirer-host",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			c.metrics.SetBreakerState(int(to))
		},
	})
}

// Dispatch writes msg and waits for the matching response until ctx is
// done.
func (c *Client) Dispatch(ctx context.Context, msg *iso8583.Message) (*iso8583.Message, error) {
	key, err := requestKey(msg)
	if err != nil {
		return nil, err
	}
	wire, err := c.packager.Build(msg)
	if err != nil {
		return nil, err
	}

	ch := make(chan *iso8583.Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := c.pending[key]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	c.pending[key] = ch
	c.mu.Unlock()
	defer c.forget(key, ch)

	if err := c.write(ctx, []byte(wire)); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) forget(key string, ch chan *iso8583.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] == ch {
		delete(c.pending, key)
	}
}

func (c *Client) write(ctx context.Context, frame []byte) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		conn, err := c.connect(ctx)
		if err != nil {
			return nil, err
		}
		deadline := time.Now().Add(c.writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		c.writeMu.Lock()
		err = conn.SetWriteDeadline(deadline)
		if err == nil {
			err = iso8583.WriteFrame(conn, c.framing, frame)
		}
		c.writeMu.Unlock()
		if err != nil {
			c.metrics.ObserveFrame("out", "error")
			c.drop(conn)
			return nil, err
		}
		c.metrics.ObserveFrame("out", "ok")
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// connect returns the live connection, dialing and starting its reader
// when there is none.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return nil, ErrClosed
	}
	if c.conn != nil {
		conn.Close()
		return c.conn, nil
	}
	c.conn = conn
	go c.readLoop(conn)
	c.logger.Info("connected to host")
	return conn, nil
}

func (c *Client) drop(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) readLoop(conn net.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan []byte)
	output := make(chan *iso8583.Message)
	processor := iso8583.NewProcessor(c.packager,
		iso8583.WithConcurrency(c.concurrency),
		iso8583.WithErrorHandler(func(frame []byte, err error) {
			c.metrics.ObserveFrame("in", "invalid")
			c.logger.Warn("dropping unparseable frame", slog.Int("bytes", len(frame)), slog.Any("error", err))
		}),
	)
	go func() {
		processor.ProcessStream(ctx, input, output)
		close(output)
	}()
	go func() {
		for msg := range output {
			c.route(msg)
		}
	}()

	defer close(input)
	for {
		frame, err := iso8583.ReadFrame(conn, c.framing)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.metrics.ObserveFrame("in", "error")
				c.logger.Warn("read failed", slog.Any("error", err))
			}
			c.drop(conn)
			return
		}
		c.metrics.ObserveFrame("in", "ok")
		input <- frame
	}
}

func (c *Client) route(msg *iso8583.Message) {
	key, err := responseKey(msg)
	if err == nil {
		c.mu.Lock()
		ch, ok := c.pending[key]
		if ok {
			delete(c.pending, key)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}
	if c.late == nil {
		c.logger.Warn("unmatched response", slog.String("mti", msg.MTI()))
		return
	}
	if err := c.late(context.Background(), msg); err != nil {
		c.logger.Debug("late response handled", slog.Any("error", err))
	}
}

// Close drops the connection. Pending requests end when their contexts do.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func requestKey(msg *iso8583.Message) (string, error) {
	respMTI, err := iso8583.ResponseMTI(msg.MTI())
	if err != nil {
		return "", err
	}
	stan, err := msg.GetString(iso8583.FieldSTAN)
	if err != nil {
		return "", ErrNoSTAN
	}
	return respMTI + "/" + stan, nil
}

func responseKey(msg *iso8583.Message) (string, error) {
	stan, err := msg.GetString(iso8583.FieldSTAN)
	if err != nil {
		return "", ErrNoSTAN
	}
	return msg.MTI() + "/" + stan, nil
}
