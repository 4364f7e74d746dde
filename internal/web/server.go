package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"kettler-ant/internal/broadcast"
	"kettler-ant/internal/config"
	"kettler-ant/internal/events"
	"kettler-ant/internal/telemetry"
)

// Status is the read-only view of the transmit loop the API serves.
type Status interface {
	Running() bool
	Died() bool
	LastUpdate() time.Time
	Model() *telemetry.Model
	Channels() []*broadcast.Channel
}

type Server struct {
	http    *http.Server
	cfg     config.WebConfig
	status  Status
	evbuf   events.Buffer
	session string
	started time.Time
}

func New(cfg config.WebConfig, status Status, evbuf events.Buffer) *Server {
	s := &Server{
		cfg:     cfg,
		status:  status,
		evbuf:   evbuf,
		session: uuid.NewString(),
		started: time.Now(),
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           withCommonHeaders(s.routes()),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/telemetry", s.handleTelemetry)
	mux.HandleFunc("/api/v1/channels", s.handleChannels)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/events/stream", s.handleEventsStream)
	return mux
}

func (s *Server) Session() string { return s.session }

// Start serves until ctx is done. The listener is capped at MaxConns.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.http.Addr, err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[web] listening on http://%s session=%s", s.http.Addr, s.session)
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shCtx); err != nil {
			log.Printf("[web] shutdown error: %v", err)
		} else {
			log.Printf("[web] stopped")
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
