// Package mpv drives an mpv process over its JSON IPC socket and exposes it
// as a playback.Player.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"podloop/internal/playback"
)

const (
	socketCheckInterval = 100 * time.Millisecond
	notificationBuffer  = 32
)

// Observed property ids.
const (
	propPause = iota + 1
	propTimePos
	propDuration
	propSpeed
	propPath
	propIdle
)

var observed = map[int]string{
	propPause:    "pause",
	propTimePos:  "time-pos",
	propDuration: "duration",
	propSpeed:    "speed",
	propPath:     "path",
	propIdle:     "idle-active",
}

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("mpv: connection closed")

// Config controls how the mpv process is started.
type Config struct {
	Binary     string
	SocketPath string
	ExtraArgs  []string

	// StartupTimeout bounds how long Start waits for the IPC socket.
	StartupTimeout time.Duration
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type message struct {
	// Replies
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`

	// Events
	Event string `json:"event"`
	ID    int    `json:"id"`
	Name  string `json:"name"`
}

// Player is a connected mpv instance.
type Player struct {
	logger *slog.Logger
	conn   net.Conn
	cmd    *exec.Cmd
	socket string

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan message

	paused   bool
	idle     bool
	timePos  float64
	duration float64
	speed    float64
	path     string
	mediaID  string
	idByURL  map[string]string

	notes     chan playback.Notification
	done      chan struct{}
	closeOnce sync.Once
}

// Start launches mpv in idle mode and connects to its socket.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) (*Player, error) {
	bin := cfg.Binary
	if bin == "" {
		bin = "mpv"
	}
	if cfg.SocketPath == "" {
		return nil, errors.New("mpv: socket path is empty")
	}
	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_ = os.Remove(cfg.SocketPath)

	args := []string{
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--input-ipc-server=" + cfg.SocketPath,
	}
	args = append(args, cfg.ExtraArgs...)

	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mpv: %w", err)
	}
	logger.Info("mpv started", "pid", cmd.Process.Pid, "socket", cfg.SocketPath)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := dialWithRetry(waitCtx, cfg.SocketPath, logger)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, err
	}
	p.cmd = cmd
	p.socket = cfg.SocketPath
	return p, nil
}

func dialWithRetry(ctx context.Context, socketPath string, logger *slog.Logger) (*Player, error) {
	for {
		p, err := Dial(ctx, socketPath, logger)
		if err == nil {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mpv socket %s not ready: %w", socketPath, err)
		case <-time.After(socketCheckInterval):
		}
	}
}

// Dial connects to an mpv IPC socket that is already listening.
func Dial(ctx context.Context, socketPath string, logger *slog.Logger) (*Player, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to mpv socket: %w", err)
	}

	p := &Player{
		logger:  logger,
		conn:    conn,
		enc:     json.NewEncoder(conn),
		pending: make(map[int64]chan message),
		paused:  true,
		idle:    true,
		speed:   1,
		idByURL: make(map[string]string),
		notes:   make(chan playback.Notification, notificationBuffer),
		done:    make(chan struct{}),
	}
	go p.readLoop()

	for id := propPause; id <= propIdle; id++ {
		if err := p.command(ctx, "observe_property", id, observed[id]); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("observe %s: %w", observed[id], err)
		}
	}
	return p, nil
}

// ============================================================================
// Protocol
// ============================================================================

func (p *Player) command(ctx context.Context, args ...any) error {
	_, err := p.request(ctx, args...)
	return err
}

func (p *Player) request(ctx context.Context, args ...any) (json.RawMessage, error) {
	reply := make(chan message, 1)

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.pending[id] = reply
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	p.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(dl)
	}
	err := p.enc.Encode(request{Command: args, RequestID: id})
	p.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %v: %w", args[0], err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrClosed
	case m := <-reply:
		if m.Error != "" && m.Error != "success" {
			return nil, fmt.Errorf("mpv %v: %s", args[0], m.Error)
		}
		return m.Data, nil
	}
}

func (p *Player) readLoop() {
	defer close(p.notes)
	defer p.shutdown()

	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var m message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			p.logger.Warn("mpv: unparseable line", "error", err)
			continue
		}
		if m.Event != "" {
			p.handleEvent(m)
			continue
		}
		if m.RequestID == 0 {
			continue
		}
		p.mu.Lock()
		reply, ok := p.pending[m.RequestID]
		p.mu.Unlock()
		if ok {
			reply <- m
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("mpv: read loop ended", "error", err)
	}
}

func (p *Player) handleEvent(m message) {
	switch m.Event {
	case "property-change":
		p.propertyChanged(m.Name, m.Data)
	case "end-file":
		p.mu.Lock()
		p.idle = true
		p.mu.Unlock()
		p.notify(playback.PlayingNotification{Playing: false})
	}
}

func (p *Player) propertyChanged(name string, data json.RawMessage) {
	p.mu.Lock()
	wasPlaying := p.playingLocked()
	var note playback.Notification

	switch name {
	case "pause":
		_ = json.Unmarshal(data, &p.paused)
	case "idle-active":
		_ = json.Unmarshal(data, &p.idle)
	case "time-pos":
		_ = json.Unmarshal(data, &p.timePos)
	case "duration":
		_ = json.Unmarshal(data, &p.duration)
	case "speed":
		if err := json.Unmarshal(data, &p.speed); err == nil {
			note = playback.SpeedNotification{Speed: p.speed}
		}
	case "path":
		var path string
		_ = json.Unmarshal(data, &path)
		if path != "" && path != p.path {
			p.path = path
			if id, ok := p.idByURL[path]; ok {
				p.mediaID = id
			} else {
				p.mediaID = path
			}
			note = playback.MediaTransition{MediaID: p.mediaID}
		}
	}
	nowPlaying := p.playingLocked()
	p.mu.Unlock()

	if note != nil {
		p.notify(note)
	}
	if nowPlaying != wasPlaying {
		p.notify(playback.PlayingNotification{Playing: nowPlaying})
	}
}

func (p *Player) playingLocked() bool {
	return !p.paused && !p.idle && p.path != ""
}

func (p *Player) notify(n playback.Notification) {
	select {
	case <-p.done:
	case p.notes <- n:
	default:
		p.logger.Warn("mpv: notification dropped", "type", fmt.Sprintf("%T", n))
	}
}

func (p *Player) shutdown() {
	p.closeOnce.Do(func() { close(p.done) })
}

// ============================================================================
// playback.Player
// ============================================================================

// SetMedia loads m paused; playback starts on Play.
func (p *Player) SetMedia(ctx context.Context, m playback.Media) error {
	if err := p.command(ctx, "set_property", "pause", true); err != nil {
		return err
	}
	p.mu.Lock()
	p.idByURL[m.URL] = m.ID
	p.mu.Unlock()

	if err := p.command(ctx, "loadfile", m.URL, "replace"); err != nil {
		return err
	}

	p.mu.Lock()
	p.mediaID = m.ID
	p.path = m.URL
	p.paused = true
	p.idle = false
	p.timePos = 0
	p.mu.Unlock()
	return nil
}

// Prepare is a no-op: loadfile already opens the stream.
func (p *Player) Prepare(context.Context) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
		return nil
	}
}

func (p *Player) Play(ctx context.Context) error {
	if err := p.command(ctx, "set_property", "pause", false); err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	return nil
}

func (p *Player) Pause(ctx context.Context) error {
	if err := p.command(ctx, "set_property", "pause", true); err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	return nil
}

func (p *Player) SeekTo(ctx context.Context, ms int64) error {
	secs := float64(ms) / 1000
	if err := p.command(ctx, "seek", secs, "absolute"); err != nil {
		return err
	}
	p.mu.Lock()
	p.timePos = secs
	p.mu.Unlock()
	return nil
}

func (p *Player) SetSpeed(ctx context.Context, speed float64) error {
	if err := p.command(ctx, "set_property", "speed", speed); err != nil {
		return err
	}
	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()
	return nil
}

func (p *Player) CurrentPosition() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(p.timePos * 1000)
}

func (p *Player) Duration() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(p.duration * 1000)
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playingLocked()
}

func (p *Player) CurrentMediaID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mediaID
}

func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

func (p *Player) Notifications() <-chan playback.Notification {
	return p.notes
}

// Close quits mpv if this Player launched it and closes the connection.
func (p *Player) Close() error {
	if p.cmd != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = p.command(ctx, "quit")
		cancel()
	}

	err := p.conn.Close()
	p.shutdown()

	if p.cmd != nil && p.cmd.Process != nil {
		waited := make(chan struct{})
		go func() {
			_, _ = p.cmd.Process.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
			<-waited
		}
		_ = os.Remove(p.socket)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
