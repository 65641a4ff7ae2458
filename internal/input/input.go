package input

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"podloop/internal/app"
)

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_NEXTSONG     = 163
	KEY_PLAYPAUSE    = 164
	KEY_PREVIOUSSONG = 165
	KEY_PLAYCD       = 200
	KEY_PAUSECD      = 201
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Skip distances for the track keys.
const (
	SkipForwardSeconds = 30
	SkipBackSeconds    = -15
)

// Event is a Linux input event.
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type Event struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var eventSize = binary.Size(Event{})

// Translate maps a key press to an action. Releases, repeats and unknown
// keys produce nothing.
func Translate(ev Event) (app.Action, bool) {
	if ev.Type != EV_KEY || ev.Value != evValuePress {
		return nil, false
	}
	switch ev.Code {
	case KEY_PLAYPAUSE, KEY_PLAYCD, KEY_PAUSECD:
		return app.TogglePlay{}, true
	case KEY_NEXTSONG:
		return app.Skip{Seconds: SkipForwardSeconds}, true
	case KEY_PREVIOUSSONG:
		return app.Skip{Seconds: SkipBackSeconds}, true
	}
	return nil, false
}

func decodeEvent(buf []byte) (Event, error) {
	var ev Event
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev)
	return ev, err
}

// ReadEvents decodes events from r until it fails. Malformed events are
// skipped.
func ReadEvents(r io.Reader, events chan<- Event) error {
	buf := make([]byte, eventSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		ev, err := decodeEvent(buf)
		if err != nil {
			continue
		}
		events <- ev
	}
}

// Dispatcher receives translated actions. *app.Store satisfies it.
type Dispatcher interface {
	TryDispatch(a app.Action) error
}

// errReader marks a failure of the reader itself rather than of one device.
var errReader = errors.New("input reader failed")

// Run opens devices and forwards media keys to d until ctx ends. A device
// that goes away is logged and the others keep working; Run fails once no
// device is left. A full dispatcher queue drops the key press.
func Run(ctx context.Context, devices []string, d Dispatcher, logger *slog.Logger) error {
	if len(devices) == 0 {
		return errors.New("no input devices provided")
	}

	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s (run as root or add user to 'input' group): %w", dev, err)
		}
		files = append(files, f)
	}

	events := make(chan Event, 64)
	lost := make(chan error, len(files))
	go readDevices(ctx, files, events, lost)

	logger.Info("media keys listening", "devices", devices)

	remaining := len(files)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			if ctx.Err() != nil {
				return nil
			}
			remaining--
			if remaining == 0 || errors.Is(err, errReader) {
				return fmt.Errorf("media keys stopped: %w", err)
			}
			logger.Warn("input device lost", "error", err, "remaining", remaining)
		case ev := <-events:
			a, ok := Translate(ev)
			if !ok {
				continue
			}
			if err := d.TryDispatch(a); err != nil {
				logger.Warn("media key dropped", "action", a.Kind(), "error", err)
			}
		}
	}
}
