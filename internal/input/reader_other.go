//go:build !linux

package input

import (
	"context"
	"fmt"
	"os"
)

// readDevices runs one blocking reader per device; each reports on lost
// when it stops.
func readDevices(ctx context.Context, files []*os.File, events chan<- Event, lost chan<- error) {
	for _, f := range files {
		go func() {
			err := ReadEvents(f, events)
			select {
			case lost <- fmt.Errorf("%s: %w", f.Name(), err):
			case <-ctx.Done():
			}
		}()
	}
}
