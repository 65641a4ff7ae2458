package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"podloop/internal/app"
	"podloop/internal/ipc"
)

// TestRunBatch_SplitsLikeAShell tests quoting, comments and line numbers.
func TestRunBatch_SplitsLikeAShell(t *testing.T) {
	input := `
# comment
subscribe https://x/feed.xml "Two Words"
skip -15
fail
never
`
	var got [][]string
	err := runBatch(context.Background(), strings.NewReader(input), func(_ context.Context, tokens []string) error {
		got = append(got, tokens)
		if tokens[0] == "fail" {
			return errors.New("boom")
		}
		return nil
	})
	if err == nil || err.Error() != "line 5: boom" {
		t.Fatalf("err = %v, want line 5: boom", err)
	}
	want := [][]string{
		{"subscribe", "https://x/feed.xml", "Two Words"},
		{"skip", "-15"},
		{"fail"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens = %q, want %q", got, want)
	}
}

// TestActionCommands_BuildRegisteredKinds tests every ctl action against the
// action registry.
func TestActionCommands_BuildRegisteredKinds(t *testing.T) {
	kinds := map[string]bool{}
	for _, k := range app.Kinds() {
		kinds[k] = true
	}
	sample := map[string][]string{
		"toggle": nil, "play": {"e1"}, "seek": {"1000"}, "skip": {"30"}, "speed": {"1.5"},
		"sleep": {"10"}, "nav": {"queue"}, "back": nil, "player": {"open"}, "car": {"on"},
		"filter": {"In", "Progress"}, "subscribe": {"https://x/feed.xml"}, "unsubscribe": {"https://x/feed.xml"},
		"enqueue": {"e1"}, "dequeue": {"e1"}, "download": {"e1"}, "sync": nil, "resume": nil,
		"mark-older": {"e1"},
	}
	for _, ac := range actionCommands {
		name := strings.Fields(ac.use)[0]
		args, ok := sample[name]
		if !ok {
			t.Fatalf("no sample args for %q", name)
		}
		a, err := ac.build(args)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !kinds[a.Kind()] {
			t.Fatalf("%s built unregistered kind %q", name, a.Kind())
		}
	}

	for _, ac := range actionCommands {
		if strings.HasPrefix(ac.use, "nav ") {
			if _, err := ac.build([]string{"moon"}); err == nil {
				t.Fatalf("nav accepted an unknown screen")
			}
		}
		if strings.HasPrefix(ac.use, "filter ") {
			a, _ := ac.build([]string{"In", "Progress"})
			if a != (app.SetFilter{Label: app.FilterInProgress}) {
				t.Fatalf("filter = %#v", a)
			}
		}
	}
}

// TestQueryCommands_FactArgs tests argument mapping for the fact commands.
func TestQueryCommands_FactArgs(t *testing.T) {
	byName := map[string]queryCommand{}
	for _, qc := range queryCommands {
		byName[strings.Fields(qc.use)[0]] = qc
	}

	qa, err := byName["assert-fact"].parse([]string{"ep-1", "note", "great", "intro"})
	if err != nil {
		t.Fatalf("assert-fact: %v", err)
	}
	if qa != (ipc.QueryArgs{Entity: "ep-1", Attribute: "note", Value: "great intro"}) {
		t.Fatalf("assert-fact args = %+v", qa)
	}

	qa, _ = byName["facts"].parse([]string{"ep-1"})
	if qa != (ipc.QueryArgs{Entity: "ep-1"}) {
		t.Fatalf("facts args = %+v", qa)
	}
}

// TestSignedLast tests that negative numbers end up after the flag
// terminator and everything else keeps its place.
func TestSignedLast(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{[]string{"30"}, []string{"30"}},
		{[]string{"-15"}, []string{"--", "-15"}},
		{[]string{"--socket", "/tmp/s", "-2.5"}, []string{"--socket", "/tmp/s", "--", "-2.5"}},
		{[]string{"-7", "--log-level=debug"}, []string{"--log-level=debug", "--", "-7"}},
		{[]string{"-h"}, []string{"-h"}},
		{[]string{"--", "-x"}, []string{"--", "-x"}},
	}
	for _, tc := range cases {
		if got := signedLast(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("signedLast(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type recordingDispatcher struct {
	mu      sync.Mutex
	actions []app.Action
}

func (r *recordingDispatcher) TryDispatch(a app.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return nil
}

func (r *recordingDispatcher) Snapshot(context.Context) (app.State, error) {
	return app.InitialState(), nil
}

func (r *recordingDispatcher) History(context.Context) (app.HistoryInfo, error) {
	return app.HistoryInfo{Size: 1, Cap: 50}, nil
}

func (r *recordingDispatcher) HistoryAt(context.Context, int) (app.State, error) {
	return app.InitialState(), nil
}

func (r *recordingDispatcher) TravelTo(context.Context, int) error { return nil }

// TestCtl_EndToEnd tests ctl commands against a live IPC socket.
func TestCtl_EndToEnd(t *testing.T) {
	dir, err := os.MkdirTemp("", "ctl")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "s.sock")

	d := &recordingDispatcher{}
	srv := &ipc.Server{SocketPath: sock, Store: d, Logger: slog.Default()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var out bytes.Buffer
	if err := executeArgs([]string{"ctl", "--socket", sock, "skip", "-15"}, &out); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if err := executeArgs([]string{"ctl", "skip", "-30", "--socket", sock}, &out); err != nil {
		t.Fatalf("skip with trailing socket flag: %v", err)
	}
	if err := executeArgs([]string{"ctl", "--socket", sock, "seek", "1500"}, &out); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if err := executeArgs([]string{"ctl", "--socket", sock, "skip", "-15", "-30"}, &out); err == nil {
		t.Fatalf("skip accepted two arguments")
	}
	if err := executeArgs([]string{"ctl", "--socket", sock, "send", `{"type":"navigate","data":{"screen":"inbox"}}`}, &out); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := executeArgs([]string{"ctl", "--socket", sock, "history"}, &out); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), `"cap": 50`) {
		t.Fatalf("history output = %q", out.String())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	want := []app.Action{
		app.Skip{Seconds: -15},
		app.Skip{Seconds: -30},
		app.Seek{PositionMs: 1500},
		app.Navigate{Screen: app.ScreenInbox},
	}
	if !reflect.DeepEqual(d.actions, want) {
		t.Fatalf("actions = %#v, want %#v", d.actions, want)
	}
}

// TestSchema_KnownTargets tests that every schema target reflects.
func TestSchema_KnownTargets(t *testing.T) {
	for name, v := range schemaTargets {
		s := reflectSchema(name, v)
		if s == nil {
			t.Fatalf("%s: nil schema", name)
		}
	}
	var out bytes.Buffer
	if err := executeArgs([]string{"schema", "--for", "ipc-request"}, &out); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if !strings.Contains(out.String(), `"query"`) {
		t.Fatalf("ipc-request schema missing query field: %s", out.String())
	}
	if err := executeArgs([]string{"schema", "--for", "nope"}, &out); err == nil {
		t.Fatalf("expected error for unknown schema")
	}
}

// TestShellSession_Log tests the log builtin and how it prefixes commands.
func TestShellSession_Log(t *testing.T) {
	var (
		s   shellSession
		out bytes.Buffer
	)
	if got := s.args([]string{"version"}); !reflect.DeepEqual(got, []string{"version"}) {
		t.Fatalf("args without level = %v", got)
	}

	if err := s.handleLog([]string{"-v"}, &out); err != nil {
		t.Fatalf("log -v: %v", err)
	}
	if s.level != "debug" {
		t.Fatalf("level after -v = %q, want debug", s.level)
	}

	if err := s.handleLog([]string{"--level", "warn"}, &out); err != nil {
		t.Fatalf("log --level: %v", err)
	}
	want := []string{"--log-level=warn", "ctl", "toggle"}
	if got := s.args([]string{"ctl", "toggle"}); !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v, want %v", got, want)
	}

	if err := s.handleLog([]string{"--level", "loud"}, &out); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if err := s.handleLog([]string{"--reset"}, &out); err != nil || s.level != "" {
		t.Fatalf("reset: level = %q, err = %v", s.level, err)
	}
	if !strings.Contains(out.String(), "log level: from config") {
		t.Fatalf("output = %q", out.String())
	}
}
