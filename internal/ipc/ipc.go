package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"podloop/internal/app"
	"podloop/internal/feed"
	"podloop/internal/library"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON, one response line per request line.
//
//   - Action:  {"type": "navigate", "data": {"screen": "library"}}
//   - Query:   {"query": "history"} / {"query": "travel", "args": {"index": 3}}
//   - Fact:    {"query": "assert_fact", "args": {"entity": "e1", "attribute": "rating", "value": "5"}}
//
//   - Response: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
// ============================================================================

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ErrQueueFull is reported when the dispatcher cannot take another action.
var ErrQueueFull = errors.New("event queue full")

// Query names.
const (
	QueryState      = "state"
	QueryHistory    = "history"
	QueryHistoryAt  = "history_at"
	QueryTravel     = "travel"
	QueryEvents     = "events"
	QueryGrep       = "grep"
	QueryFailed     = "failed"
	QuerySearch     = "search"
	QueryKinds      = "kinds"
	QueryFacts      = "facts"
	QueryAssertFact = "assert_fact"
)

// Request is one line from a client. Exactly one of Type or Query is set.
type Request struct {
	ID    string          `json:"id,omitempty"`
	Type  string          `json:"type,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Query string          `json:"query,omitempty"`
	Args  QueryArgs       `json:"args,omitzero"`
}

// QueryArgs carries query parameters; each query reads the fields it needs.
type QueryArgs struct {
	Index     int    `json:"index,omitempty"`
	N         int    `json:"n,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Term      string `json:"term,omitempty"`
	Entity    string `json:"entity,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Value     string `json:"value,omitempty"`
	Latest    bool   `json:"latest,omitempty"`
}

// Response is sent back for every request.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Dispatcher is the application store. *app.Store satisfies it.
type Dispatcher interface {
	TryDispatch(a app.Action) error
	Snapshot(ctx context.Context) (app.State, error)
	History(ctx context.Context) (app.HistoryInfo, error)
	HistoryAt(ctx context.Context, i int) (app.State, error)
	TravelTo(ctx context.Context, i int) error
}

// EventLog is the durable action log. *library.Store satisfies it.
type EventLog interface {
	RecentEvents(n int) ([]library.Entry, error)
	GrepEvents(q string) ([]library.Entry, error)
	FailedEvents() ([]library.Entry, error)
}

// FactStore holds entity/attribute/value facts. *library.Store satisfies it.
type FactStore interface {
	AssertFact(entity, attribute, value string) (library.Fact, error)
	Facts(filter library.FactFilter) ([]library.Fact, error)
}

// Searcher looks up feeds in a directory. *feed.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, term string) ([]feed.SearchResult, error)
}

// Server serves the control socket.
type Server struct {
	SocketPath string
	Store      Dispatcher
	Events     EventLog  // optional
	Facts      FactStore // optional
	Search     Searcher  // optional
	Logger     *slog.Logger
}

// Run listens on SocketPath until ctx is canceled, then closes the listener
// and every open connection.
func (s *Server) Run(ctx context.Context) error {
	if err := os.RemoveAll(s.SocketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.SocketPath, err)
	}
	defer os.Remove(s.SocketPath)
	defer listener.Close()

	if err := os.Chmod(s.SocketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.Logger.Info("IPC listening", "socket", s.SocketPath)

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.Logger.Debug("IPC listener closed")
				return nil
			}
			s.Logger.Error("IPC accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.Logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.Logger.Debug("IPC received", "line", string(line))

		resp := s.Handle(ctx, line)
		if err := encoder.Encode(resp); err != nil {
			s.Logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	s.Logger.Debug("IPC connection closed")
}

// Handle processes one request line.
func (s *Server) Handle(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse("", fmt.Errorf("parse request: %w", err))
	}

	switch {
	case req.Query != "":
		data, err := s.query(ctx, req)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return errorResponse(req.ID, fmt.Errorf("marshal result: %w", err))
		}
		return Response{ID: req.ID, Status: StatusOK, Data: raw}

	case req.Type != "":
		a, err := app.NewAction(req.Type, req.Data)
		if err != nil {
			return errorResponse(req.ID, fmt.Errorf("parse action: %w", err))
		}
		if err := s.Store.TryDispatch(a); err != nil {
			if errors.Is(err, app.ErrQueueFull) {
				err = ErrQueueFull
			}
			return errorResponse(req.ID, err)
		}
		return Response{ID: req.ID, Status: StatusOK}

	default:
		return errorResponse(req.ID, errors.New("request needs a type or a query"))
	}
}

func (s *Server) query(ctx context.Context, req Request) (any, error) {
	switch req.Query {
	case QueryState:
		st, err := s.Store.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return st, nil
	case QueryHistory:
		return s.Store.History(ctx)
	case QueryHistoryAt:
		return s.Store.HistoryAt(ctx, req.Args.Index)
	case QueryTravel:
		if err := s.Store.TravelTo(ctx, req.Args.Index); err != nil {
			return nil, err
		}
		return s.Store.History(ctx)
	case QueryKinds:
		return app.Kinds(), nil
	case QueryEvents, QueryGrep, QueryFailed:
		if s.Events == nil {
			return nil, errors.New("event log not available")
		}
		switch req.Query {
		case QueryEvents:
			n := req.Args.N
			if n <= 0 {
				n = 50
			}
			return s.Events.RecentEvents(n)
		case QueryGrep:
			return s.Events.GrepEvents(req.Args.Pattern)
		default:
			return s.Events.FailedEvents()
		}
	case QueryFacts, QueryAssertFact:
		if s.Facts == nil {
			return nil, errors.New("fact store not available")
		}
		if req.Query == QueryAssertFact {
			return s.Facts.AssertFact(req.Args.Entity, req.Args.Attribute, req.Args.Value)
		}
		return s.Facts.Facts(library.FactFilter{
			Entity:    req.Args.Entity,
			Attribute: req.Args.Attribute,
			Latest:    req.Args.Latest,
		})
	case QuerySearch:
		if s.Search == nil {
			return nil, errors.New("search not available")
		}
		if req.Args.Term == "" {
			return nil, errors.New("search needs a term")
		}
		return s.Search.Search(ctx, req.Args.Term)
	default:
		return nil, fmt.Errorf("unknown query %q", req.Query)
	}
}

func errorResponse(id string, err error) Response {
	return Response{ID: id, Status: StatusError, Error: err.Error()}
}
