package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"
)

// frame mirrors the state stream envelope.
type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data"`
}

type stateSummary struct {
	Screen  string `json:"screen"`
	Filter  string `json:"filter"`
	Library []any  `json:"library"`

	Current *struct {
		EpisodeTitle string `json:"episode_title"`
		Title        string `json:"title"`
	} `json:"current"`

	Playback struct {
		IsPlaying  bool    `json:"is_playing"`
		PositionMs int64   `json:"position_ms"`
		DurationMs int64   `json:"duration_ms"`
		Speed      float64 `json:"speed"`
	} `json:"playback"`

	Optimistic  []any    `json:"optimistic"`
	Syncing     bool     `json:"syncing"`
	Downloading []string `json:"downloading"`
}

type notification struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/state", "podloop state WebSocket URL")
		raw   = flag.Bool("raw", false, "print frames as JSON lines even on a terminal")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	pretty := !*raw && term.IsTerminal(int(os.Stdout.Fd()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if pretty {
				printFrame(os.Stdout, message)
			} else {
				fmt.Println(string(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// printFrame renders one frame as a short human-readable line.
func printFrame(w io.Writer, message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		fmt.Fprintf(w, "[TEXT] %s\n", message)
		return
	}

	switch f.Type {
	case "state", "state_init":
		var s stateSummary
		if err := json.Unmarshal(f.Data, &s); err != nil {
			fmt.Fprintf(w, "[%s] %s\n", strings.ToUpper(f.Type), f.Data)
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", strings.ToUpper(f.Type), summarize(s))
	case "notification":
		var n notification
		_ = json.Unmarshal(f.Data, &n)
		fmt.Fprintf(w, "[%s] %s\n", strings.ToUpper(n.Kind), n.Text)
	default:
		fmt.Fprintf(w, "[%s] %s\n", f.Type, f.Data)
	}
}

func summarize(s stateSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "screen=%s filter=%q episodes=%d", s.Screen, s.Filter, len(s.Library))
	if n := len(s.Optimistic); n > 0 {
		fmt.Fprintf(&b, " pending=%d", n)
	}
	if s.Current != nil {
		state := "paused"
		if s.Playback.IsPlaying {
			state = "playing"
		}
		fmt.Fprintf(&b, " | %s %q %s/%s x%.2g", state, s.Current.EpisodeTitle,
			clock(s.Playback.PositionMs), clock(s.Playback.DurationMs), s.Playback.Speed)
	}
	if s.Syncing {
		b.WriteString(" | syncing")
	}
	if n := len(s.Downloading); n > 0 {
		fmt.Fprintf(&b, " | downloading=%d", n)
	}
	return b.String()
}

func clock(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
