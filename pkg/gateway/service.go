package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-multierror"
	"github.com/opsbridge/opsbridge/pkg/headers"
	"github.com/opsbridge/opsbridge/pkg/incident"
	"github.com/opsbridge/opsbridge/pkg/logger"
	"github.com/opsbridge/opsbridge/pkg/service"
	"github.com/opsbridge/opsbridge/pkg/session"
	"github.com/opsbridge/opsbridge/pkg/toolserver"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Addr string
	Port int

	// Store backs the tool catalog.  A seeded store is created when nil.
	Store *incident.Store
}

// NewService returns the gateway as a runnable service:  Pre binds the
// listener, Run serves until cancellation, Stop shuts the server down and
// drains every live session.
func NewService(opts Options) service.Service {
	return &svc{opts: opts}
}

type svc struct {
	opts Options

	table    *session.Table
	listener net.Listener
	server   *http.Server
	log      logger.Logger

	stopOnce sync.Once
	stopErr  error
}

func (s *svc) Name() string {
	return "gateway"
}

func (s *svc) Pre(ctx context.Context) error {
	s.log = logger.StdlibLogger(ctx)
	s.table = session.NewTable()

	store := s.opts.Store
	if store == nil {
		store = incident.NewStore(time.Now().UnixNano())
	}

	factory := toolserver.NewFactory(store, s.log)
	router := NewRouter(factory, s.table, s.log)

	mux := chi.NewMux()
	mux.Use(middleware.Recoverer)
	mux.Use(cors.New(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{headers.HeaderKeySessionID},
		AllowCredentials: false,
	}).Handler)
	mux.Use(headers.StaticHeadersMiddleware(headers.ServerKindGateway))
	mux.Use(s.requestLogger)

	mux.Handle("/mcp", router)
	mux.Get("/healthz", s.healthz)

	addr := fmt.Sprintf("%s:%d", s.opts.Addr, s.opts.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{Handler: mux}

	return nil
}

func (s *svc) Run(ctx context.Context) error {
	s.log.Info("gateway listening", "addr", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *svc) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *svc) stop(ctx context.Context) error {
	var err *multierror.Error

	// Stop accepting connections before touching sessions, so no late
	// handshake can register into a drained table.
	if s.listener != nil {
		if lerr := s.listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) {
			err = multierror.Append(err, lerr)
		}
	}

	// Drain every live session before shutting the server down:  closing a
	// session fires its Done channel, which ends any attached event stream.
	// Shutdown waits for active connections to go idle, so draining last
	// would leave it blocked on open streams until the timeout.  Individual
	// close failures are logged and aggregated;  they never stop the drain.
	if s.table != nil {
		drained := s.table.Drain()
		for _, sess := range drained {
			if cerr := sess.Close(); cerr != nil {
				s.log.Warn("session teardown during drain", "session_id", sess.ID, "error", cerr)
				err = multierror.Append(err, cerr)
			}
		}
		if len(drained) > 0 {
			s.log.Info("drained sessions", "count", len(drained))
		}
	}

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if serr := s.server.Shutdown(shutdownCtx); serr != nil {
			err = multierror.Append(err, serr)
		}
	}

	return err.ErrorOrNil()
}

func (s *svc) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.table.Len(),
	})
}

func (s *svc) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"duration_ms", m.Duration.Milliseconds(),
			"bytes", m.Written,
		)
	})
}
