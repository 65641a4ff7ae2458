package statews

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"podloop/internal/app"
	"podloop/internal/library"
)

// Frame types.
const (
	TypeStateInit    = "state_init"
	TypeState        = "state"
	TypeNotification = "notification"
)

// Envelope is the wire format for every frame: {type, ts, data}.
type Envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// StateFrame is the data of state_init and state frames: the application
// snapshot plus its filtered projection.
type StateFrame struct {
	app.State
	Screen  app.Screen        `json:"screen"`
	Visible []library.Episode `json:"visible"`
}

// NewStateFrame projects s for the wire.
func NewStateFrame(s app.State) StateFrame {
	return StateFrame{State: s, Screen: s.Top(), Visible: app.Visible(s)}
}

func marshalFrame(typ string, data any, now time.Time) ([]byte, error) {
	ts := now.UTC()
	return json.Marshal(Envelope{Type: typ, Ts: &ts, Data: data})
}

// Snapshotter serves the initial state for a new connection. The snapshot
// is taken on the store's own goroutine.
type Snapshotter interface {
	Snapshot(ctx context.Context) (app.State, error)
}

type Server struct {
	logger *slog.Logger
	hub    *Hub
	snap   Snapshotter
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the state stream server. Register it on a mux, then
// start Hub().Run(ctx) and RunBroadcaster.
func NewServer(logger *slog.Logger, snap Snapshotter, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		snap:   snap,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// state_init is queued before the client joins so it is always the
	// first frame on the wire.
	if init, ok := s.initFrame(r.Context()); ok {
		client.enqueue(init)
	}
	if !s.hub.Join(client) {
		return
	}

	// The loops outlive the request.
	go client.writeLoop()
	go client.readLoop()
}

func (s *Server) initFrame(ctx context.Context) ([]byte, bool) {
	if s.snap == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	st, err := s.snap.Snapshot(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return nil, false
	}
	msg, err := marshalFrame(TypeStateInit, NewStateFrame(st), time.Now())
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return nil, false
	}
	return msg, true
}

// ListenAndServe serves the state stream on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	s.Register(mux, path)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, mux)
}

// Serve runs an HTTP server on ln and shuts it down gracefully when ctx is
// canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler}
	s.logger.Info("state ws listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
