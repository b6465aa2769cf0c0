//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// epollWaitMS bounds each epoll_wait so cancellation is noticed promptly.
const epollWaitMS = 200

// runPowerButtonReader watches the given evdev devices with a single epoll
// instance and publishes power button edges until ctx is canceled.
func runPowerButtonReader(ctx context.Context, devices []string, events chan<- Event, logger *slog.Logger) error {
	if len(devices) == 0 {
		return errors.New("no power button devices configured")
	}

	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, path := range devices {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open power button device %s: %w", path, err)
		}
		files = append(files, f)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int32]*os.File, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[int32(fd)] = f
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
		}
	}

	logger.Info("power button reader started", "devices", devices)

	ready := make([]unix.EpollEvent, 8)
	buf := make([]byte, binary.Size(inputEvent{}))
	reader := bytes.NewReader(buf)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(epfd, ready, epollWaitMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			f := fdToFile[ready[i].Fd]
			if ready[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("power button device error/hangup: %s", f.Name())
			}
			if _, err := f.Read(buf); err != nil {
				return fmt.Errorf("read from %s: %w", f.Name(), err)
			}

			reader.Reset(buf)
			var ie inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ie); err != nil {
				continue
			}
			pb, ok := powerButtonEvent(ie)
			if !ok {
				continue
			}
			logger.Debug("power button", "pressed", pb.Pressed, "device", f.Name())

			select {
			case events <- pb:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
