//go:build linux

package input

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	// epollTimeoutMs bounds each wait so cancellation is noticed.
	epollTimeoutMs = 250
	maxReady       = 16
)

// readDevices multiplexes every device on one goroutine. A device that
// hangs up or fails a read is reported on lost and dropped from the set;
// the reader returns once no device is left.
func readDevices(ctx context.Context, files []*os.File, events chan<- Event, lost chan<- error) {
	report := func(err error) bool {
		select {
		case lost <- err:
			return true
		case <-ctx.Done():
			return false
		}
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		report(fmt.Errorf("%w: epoll_create1: %v", errReader, err))
		return
	}
	defer unix.Close(epfd)

	devices := make(map[int32]*os.File, len(files))
	for _, f := range files {
		fd := int32(f.Fd())
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: fd}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
			report(fmt.Errorf("%w: watch %s: %v", errReader, f.Name(), err))
			return
		}
		devices[fd] = f
	}

	forget := func(fd int32, err error) bool {
		f := devices[fd]
		delete(devices, fd)
		_ = unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
		return report(fmt.Errorf("%s: %w", f.Name(), err))
	}

	ready := make([]unix.EpollEvent, maxReady)
	buf := make([]byte, eventSize)
	for len(devices) > 0 && ctx.Err() == nil {
		n, err := unix.EpollWait(epfd, ready, epollTimeoutMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			report(fmt.Errorf("%w: epoll_wait: %v", errReader, err))
			return
		}

		for _, r := range ready[:n] {
			f, ok := devices[r.Fd]
			if !ok {
				continue
			}
			if r.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				if !forget(r.Fd, errors.New("device hung up")) {
					return
				}
				continue
			}
			if _, err := f.Read(buf); err != nil {
				if !forget(r.Fd, err) {
					return
				}
				continue
			}
			ev, err := decodeEvent(buf)
			if err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
