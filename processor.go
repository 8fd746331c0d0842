package iso8583

import (
	"context"
	"log/slog"
	"sync"
)

// Processor parses inbound hex wire frames concurrently.
type Processor struct {
	packager     *CompiledPackager
	concurrency  int
	errorHandler func(frame []byte, err error)
}

// ProcessorOption defines a function signature for configuring a Processor.
type ProcessorOption func(*Processor)

// WithConcurrency sets the maximum number of concurrent parsing goroutines.
func WithConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithErrorHandler sets the callback for frames that fail to parse.
func WithErrorHandler(handler func(frame []byte, err error)) ProcessorOption {
	return func(p *Processor) {
		p.errorHandler = handler
	}
}

func NewProcessor(packager *CompiledPackager, opts ...ProcessorOption) *Processor {
	p := &Processor{
		packager:    packager,
		concurrency: 4,
		errorHandler: func(frame []byte, err error) {
			slog.Warn("dropping unparseable frame", slog.Int("bytes", len(frame)), slog.Any("error", err))
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process parses a single hex wire frame.
func (p *Processor) Process(frame []byte) (*Message, error) {
	return p.packager.Parse(string(frame))
}

// ProcessStream parses frames from input and sends messages to output until
// input is closed or ctx is done. Output order is not guaranteed.
func (p *Processor) ProcessStream(ctx context.Context, input <-chan []byte, output chan<- *Message) error {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, p.concurrency)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()

		case frame, ok := <-input:
			if !ok {
				wg.Wait()
				return nil
			}

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			}
			wg.Add(1)

			go func(frame []byte) {
				defer wg.Done()
				defer func() { <-semaphore }()

				msg, err := p.Process(frame)
				if err != nil {
					if p.errorHandler != nil {
						p.errorHandler(frame, err)
					}
					return
				}

				select {
				case output <- msg:
				case <-ctx.Done():
				}
			}(frame)
		}
	}
}
