// Package status serves the local operator endpoints: liveness, readiness,
// Prometheus metrics, run state, the latest record and a live event stream.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/TakashiAihara/wlan-scanner/internal/health"
	"github.com/TakashiAihara/wlan-scanner/internal/metrics"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// RunView is the JSON body of /api/v1/state.
type RunView struct {
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
	Phase       string    `json:"phase"`
	Probe       string    `json:"probe,omitempty"`
	Iterations  int       `json:"iterations"`
	Limit       int       `json:"limit"`
	LastWritten string    `json:"last_written,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
	Cancelled   bool      `json:"cancelled"`
}

type Dependencies struct {
	Metrics *metrics.Store
	Checker *health.Checker
	Hub     *Hub
	State   func() RunView
	Now     func() time.Time
	Logger  logrus.FieldLogger
}

type Server struct {
	addr   string
	router *mux.Router
	deps   Dependencies
}

func New(addr string, deps Dependencies) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStore()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if deps.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		deps.Logger = discard
	}
	s := &Server{addr: addr, deps: deps}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.NewHTTPHandler(s.deps.Metrics))
	r.HandleFunc("/api/v1/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/records/latest", s.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/stream", s.handleStream).Methods(http.MethodGet)
	return r
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.deps.Logger.WithField("addr", ln.Addr().String()).Info("status server listening")

	select {
	case <-ctx.Done():
		s.deps.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	body := struct {
		Ready   bool     `json:"ready"`
		Reasons []string `json:"reasons,omitempty"`
	}{Ready: true}
	if s.deps.Checker != nil {
		body.Ready, body.Reasons = s.deps.Checker.Ready(s.deps.Now())
	}
	code := http.StatusOK
	if !body.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.deps.State == nil {
		writeJSON(w, http.StatusOK, RunView{State: "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.State())
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	rec, ok := s.deps.Hub.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no record written yet"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c, ok := s.deps.Hub.register()
	if !ok {
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		// subscribers only listen; reading keeps pong handling alive
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer func() {
			ticker.Stop()
			s.deps.Hub.unregister(c)
			_ = conn.Close()
		}()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-c.send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(wsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
