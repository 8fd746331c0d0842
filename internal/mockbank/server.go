package mockbank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/mkadit/iso8583/v2"
)

// Server answers length-prefixed hex frames over TCP. A packager without
// a length indicator is served with a two byte binary prefix. Answers on one
// connection may come back out of order.
type Server struct {
	bank      *Bank
	framing   iso8583.LengthIndicatorConfig
	processor *iso8583.Processor
	logger    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewServer(bank *Bank, concurrency int) *Server {
	framing := bank.packager.LengthIndicator()
	if framing.Type == iso8583.LengthIndicatorNone {
		framing = iso8583.LengthIndicatorConfig{Type: iso8583.LengthIndicatorBinary, Length: 2}
	}
	s := &Server{
		bank:    bank,
		framing: framing,
		logger:  bank.logger.With(slog.String("component", "mockbank_server")),
		conns:   make(map[net.Conn]struct{}),
	}
	s.processor = iso8583.NewProcessor(bank.packager,
		iso8583.WithConcurrency(concurrency),
		iso8583.WithErrorHandler(func(frame []byte, err error) {
			s.logger.Warn("dropping unparseable frame", slog.Int("bytes", len(frame)), slog.Any("error", err))
		}),
	)
	return s
}

// Listen binds addr. Use ":0" in tests and read the port from Addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("mockbank: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.logger.Info("mock bank listening", slog.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Close stops the listener and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	remote := conn.RemoteAddr().String()
	input := make(chan []byte)
	output := make(chan *iso8583.Message)
	go func() {
		defer close(input)
		for {
			frame, err := iso8583.ReadFrame(conn, s.framing)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					s.logger.Warn("read failed", slog.String("remote", remote), slog.Any("error", err))
				}
				return
			}
			select {
			case input <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.processor.ProcessStream(ctx, input, output)
		close(output)
	}()

	var (
		writeMu sync.Mutex
		replies sync.WaitGroup
	)
	for req := range output {
		replies.Add(1)
		go func(req *iso8583.Message) {
			defer replies.Done()
			if err := s.bank.wait(ctx); err != nil {
				return
			}
			resp, err := s.bank.Respond(req)
			if err != nil {
				s.logger.Warn("cannot answer", slog.String("mti", req.MTI()), slog.Any("error", err))
				return
			}
			wire, err := s.bank.packager.Build(resp)
			if err != nil {
				s.logger.Warn("cannot encode answer", slog.Any("error", err))
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := iso8583.WriteFrame(conn, s.framing, []byte(wire)); err != nil {
				s.logger.Warn("write failed", slog.String("remote", remote), slog.Any("error", err))
				cancel()
			}
		}(req)
	}
	<-done
	replies.Wait()
}
