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
	"VeriStake/internal/logger"
)

const (
	// catchupBatch is how many events one catchup frame carries.
	catchupBatch = 512

	// subscriberBuffer is the per-subscriber live channel depth. A
	// subscriber that falls further behind is backfilled from the
	// journal when it catches up.
	subscriberBuffer = 1024
)

// Server accepts feed subscribers and streams the journal to them.
type Server struct {
	journal    *events.Journal
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a feed server over the given journal.
func NewServer(journal *events.Journal, listenAddr string) (*Server, error) {
	if listenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	cert, err := generateCertificate()
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		journal:    journal,
		listenAddr: listenAddr,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins accepting subscribers.
func (s *Server) Start() error {
	listener, err := quic.ListenAddr(s.listenAddr, s.tlsConfig, s.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("feed listening", "addr", listener.Addr())

	return nil
}

// Addr returns the listener's address. Returns empty string if not started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Close stops the server and disconnects all subscribers.
func (s *Server) Close() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()

	return nil
}

// acceptLoop accepts incoming subscriber connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return // Listener closed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSubscriber(conn)
		}()
	}
}

// handleSubscriber reads the subscribe frame and serves the stream
// until the subscriber disconnects or the server shuts down.
func (s *Server) handleSubscriber(conn *quic.Conn) {
	defer conn.CloseWithError(0, "done")

	stream, err := conn.AcceptStream(s.ctx)
	if err != nil {
		return
	}

	frame, err := readFrame(stream)
	if err != nil {
		logger.Debug("subscriber handshake failed", "peer", conn.RemoteAddr(), "error", err)
		return
	}

	fromSeq, err := decodeSubscribe(frame)
	if err != nil {
		logger.Debug("subscriber handshake failed", "peer", conn.RemoteAddr(), "error", err)
		return
	}
	if fromSeq == 0 {
		fromSeq = 1
	}

	logger.Info("subscriber connected", "peer", conn.RemoteAddr(), "from", fromSeq)

	s.serve(stream, fromSeq)

	logger.Info("subscriber gone", "peer", conn.RemoteAddr())
}

// serve replays the backlog from the requested sequence, then streams
// live events. The live subscription starts before the replay so no
// commit can fall between the two phases; overlap is skipped by
// sequence and any events the live buffer dropped are backfilled from
// the journal.
func (s *Server) serve(stream *quic.Stream, fromSeq uint64) {
	live, cancelLive := s.journal.Subscribe(subscriberBuffer)
	defer cancelLive()

	next, err := s.sendBacklog(stream, fromSeq)
	if err != nil {
		logger.Debug("catchup aborted", "error", err)
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq < next {
				continue
			}
			if ev.Seq > next {
				next, err = s.sendBacklog(stream, next)
				if err != nil {
					logger.Debug("backfill aborted", "error", err)
					return
				}
				if ev.Seq < next {
					continue
				}
			}

			if err := s.sendLive(stream, ev); err != nil {
				logger.Debug("live send failed", "error", err)
				return
			}
			next = ev.Seq + 1
		}
	}
}

// sendBacklog streams journal batches starting at from and returns the
// next sequence to deliver.
func (s *Server) sendBacklog(stream *quic.Stream, from uint64) (uint64, error) {
	for {
		evs, err := s.journal.ReadSince(from, catchupBatch)
		if err != nil {
			return from, err
		}
		if len(evs) == 0 {
			return from, nil
		}

		blob, err := events.ExportBatch(evs)
		if err != nil {
			return from, err
		}

		frame := make([]byte, 0, 1+len(blob))
		frame = append(frame, frameCatchup)
		frame = append(frame, blob...)

		if err := writeFrame(stream, frame); err != nil {
			return from, err
		}

		from = evs[len(evs)-1].Seq + 1
	}
}

// sendLive writes one event as a snappy-compressed live frame.
func (s *Server) sendLive(stream *quic.Stream, ev events.Event) error {
	compressed := snappy.Encode(nil, events.Encode(ev))

	frame := make([]byte, 0, 1+len(compressed))
	frame = append(frame, frameLive)
	frame = append(frame, compressed...)

	return writeFrame(stream, frame)
}
