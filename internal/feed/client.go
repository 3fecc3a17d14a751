package feed

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/quic-go/quic-go"

	"VeriStake/internal/events"
)

// Subscription is a client-side feed connection. Events arrive on the
// channel in journal order, backlog first, live after, with no gaps
// from the requested sequence onward.
type Subscription struct {
	ch   chan events.Event
	conn *quic.Conn
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// Subscribe connects to a feed server and resumes from the given
// sequence. A fromSeq of 0 or 1 replays the journal from the start.
func Subscribe(ctx context.Context, addr string, fromSeq uint64) (*Subscription, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true, // feed servers use ephemeral self-signed certificates
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if err := writeFrame(stream, encodeSubscribe(fromSeq)); err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &Subscription{
		ch:   make(chan events.Event, 256),
		conn: conn,
		done: make(chan struct{}),
	}

	go sub.readLoop(stream)

	return sub, nil
}

// Events returns the delivery channel. It is closed when the
// subscription ends; Err reports why.
func (s *Subscription) Events() <-chan events.Event {
	return s.ch
}

// Err returns the terminal error, nil after a clean Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close tears down the subscription.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)

	return s.conn.CloseWithError(0, "closed")
}

// fail records the first terminal error unless the subscription was
// closed deliberately.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed && s.err == nil {
		s.err = err
	}
}

// readLoop decodes frames into events until the stream ends.
func (s *Subscription) readLoop(stream *quic.Stream) {
	defer close(s.ch)

	for {
		frame, err := readFrame(stream)
		if err != nil {
			s.fail(err)
			return
		}

		switch frame[0] {
		case frameCatchup:
			evs, err := events.ImportBatch(frame[1:])
			if err != nil {
				s.fail(fmt.Errorf("import catchup batch: %w", err))
				return
			}
			for _, ev := range evs {
				if !s.deliver(ev) {
					return
				}
			}
		case frameLive:
			raw, err := snappy.Decode(nil, frame[1:])
			if err != nil {
				s.fail(fmt.Errorf("snappy decode: %w", err))
				return
			}
			ev, err := events.Decode(raw)
			if err != nil {
				s.fail(fmt.Errorf("decode event: %w", err))
				return
			}
			if !s.deliver(ev) {
				return
			}
		default:
			s.fail(fmt.Errorf("unknown frame type %d", frame[0]))
			return
		}
	}
}

// deliver hands an event to the consumer, aborting if the
// subscription closes first.
func (s *Subscription) deliver(ev events.Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	}
}
