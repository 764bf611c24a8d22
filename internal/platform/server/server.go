// Package server accepts TLS connections carrying one framed protocol
// request each and answers every one of them with exactly one framed
// response.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/genomic/genomic/internal/platform/protocol"
	"github.com/genomic/genomic/internal/platform/telemetry"
)

const (
	DefaultMaxWorkers       = 64
	DefaultReadTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	lingerTimeout  = time.Second
	maxLingerBytes = 1 << 20
)

// Handler answers a parsed request. It must always return a response.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) *protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) *protocol.Response

func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	return f(ctx, req)
}

type Config struct {
	Addr             string
	TLS              *tls.Config
	MaxWorkers       int64
	MaxFrameBytes    int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// Metrics is optional.
	Metrics *telemetry.Provider
}

func (c *Config) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = protocol.DefaultMaxFrameSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Server is a TLS TCP server with one worker goroutine per connection,
// bounded by a weighted semaphore.
type Server struct {
	cfg      Config
	handler  Handler
	logger   zerolog.Logger
	metrics  *telemetry.Provider
	sem      *semaphore.Weighted
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(cfg Config, handler Handler, logger zerolog.Logger) *Server {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With().Str("component", "tcp_server").Logger(),
		metrics: cfg.Metrics,
		sem:     semaphore.NewWeighted(cfg.MaxWorkers),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start begins listening for connections. It is non-blocking: the accept
// loop runs in a background goroutine.
func (s *Server) Start() error {
	if s.cfg.TLS == nil {
		return errors.New("server: tls config is required")
	}
	ln, err := tls.Listen("tcp", s.cfg.Addr, s.cfg.TLS)
	if err != nil {
		return fmt.Errorf("server: failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Int64("max_workers", s.cfg.MaxWorkers).
		Msg("server listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener, then every tracked connection, and waits for
// the accept loop and all workers to finish.
func (s *Server) Stop() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if s.metrics != nil {
		st := s.metrics.Stats()
		s.logger.Info().
			Int64("total_requests", st.TotalRequests).
			Dur("avg_latency", st.AverageLatency).
			Int64("peak_connections", st.PeakConnections).
			Msg("server stopped")
	}
	return err
}

// Addr returns the listener address. Useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) acceptLoop() {
	for {
		// A slot is taken before accepting, so a saturated server leaves new
		// connections in the listen backlog.
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.sem.Release(1)
			if s.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error().Err(err).Msg("accept failed")
			return
		}

		s.trackConn(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.serve(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// serve handles exactly one request on conn.
func (s *Server) serve(conn net.Conn) {
	if s.ctx.Err() != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
		defer s.metrics.ConnectionClosed()
	}

	start := time.Now()
	log := s.logger.With().
		Str("request_id", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	ctx := log.WithContext(s.ctx)

	if tc, ok := conn.(*tls.Conn); ok {
		tc.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		if err := tc.HandshakeContext(ctx); err != nil {
			log.Warn().Err(err).Msg("tls handshake failed")
			if s.metrics != nil {
				s.metrics.ConnectionRejected()
			}
			return
		}
		tc.SetDeadline(time.Time{})
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	raw, err := protocol.ReadFrame(conn, s.cfg.MaxFrameBytes)

	var req *protocol.Request
	var resp *protocol.Response
	switch {
	case errors.Is(err, io.EOF):
		log.Debug().Msg("connection closed before a request was sent")
		return
	case err != nil:
		log.Warn().Err(err).Msg("failed to read request frame")
		resp = protocol.Failure(protocol.CodeInvalidFormat, "Invalid request frame: "+err.Error())
	default:
		req, resp = s.process(ctx, raw)
	}

	s.record(log, req, resp, time.Since(start))

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := protocol.WriteFrame(conn, resp.String()); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
		return
	}
	closeWriteAndDrain(conn)
}

// closeWriteAndDrain ends our side of the stream and discards anything the
// client still sends, so the close does not reset the connection before the
// client has read the response.
func closeWriteAndDrain(conn net.Conn) {
	if tc, ok := conn.(*tls.Conn); ok {
		tc.CloseWrite()
	}
	conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.Copy(io.Discard, io.LimitReader(conn, maxLingerBytes))
}

// process parses and dispatches one request. A panic in the handler becomes
// a SERVER_ERROR response.
func (s *Server) process(ctx context.Context, raw string) (req *protocol.Request, resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("panic while handling request")
			resp = protocol.Failure(protocol.CodeServerError, "internal server error")
		}
	}()

	req, err := protocol.ParseRequest(raw)
	if err != nil {
		return nil, protocol.FailureFrom(err)
	}
	resp = s.handler.Handle(ctx, req)
	if resp == nil {
		resp = protocol.Failure(protocol.CodeServerError, "no response")
	}
	return req, resp
}

func (s *Server) record(log zerolog.Logger, req *protocol.Request, resp *protocol.Response, elapsed time.Duration) {
	command, patientID := "UNKNOWN", ""
	if req != nil {
		command, patientID = string(req.Command), req.PatientID
	}
	status := string(protocol.StatusSuccess)
	if resp.Err != nil {
		status = string(resp.Err.Code)
	}

	ev := log.Info()
	if resp.Err != nil && resp.Err.Code == protocol.CodeServerError {
		ev = log.Error()
	}
	ev.Str("command", command).
		Str("patient_id", patientID).
		Str("status", status).
		Dur("latency", elapsed).
		Msg("request handled")

	if s.metrics != nil {
		s.metrics.RecordRequest(command, status, elapsed)
	}
}
