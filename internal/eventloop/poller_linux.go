//go:build linux

// Package eventloop implements the readiness poller, token map, and timer
// queue of spec.md section 4.6. This file is the Linux epoll backend,
// grounded on the teacher's internal/netio/rawsock_linux.go use of
// golang.org/x/sys/unix for raw syscalls (unix.SetsockoptInt, here
// unix.EpollCreate1/EpollCtl/EpollWait) with the same fmt.Errorf(%w)
// wrapping idiom.
package eventloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EventMask mirrors the Readable/Writable interest bits spec.md section
// 4.6/4.7 describes abstractly ("READABLE|WRITABLE").
type EventMask uint32

const (
	Readable EventMask = 1 << iota
	Writable
)

func (m EventMask) toEpoll() uint32 {
	var e uint32 = unix.EPOLLRDHUP
	if m&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if m&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

// Event is a single readiness notification returned by Wait.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
	Error    bool
}

// Poller wraps a Linux epoll instance.
type Poller struct {
	epfd int
}

// NewPoller creates a new epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{epfd: fd}, nil
}

// Add registers fd under token with the given interest mask.
func (p *Poller) Add(fd int, token Token, mask EventMask) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, token, mask)
}

// Modify changes the interest mask for an already-registered fd.
func (p *Poller) Modify(fd int, token Token, mask EventMask) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, token, mask)
}

// Remove deregisters fd from the poller.
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl(del, fd=%d): %w", fd, err)
	}
	return nil
}

func (p *Poller) ctl(op int, fd int, token Token, mask EventMask) error {
	ev := &unix.EpollEvent{Events: mask.toEpoll()}
	// x/sys/unix's EpollEvent splits the kernel's 8-byte epoll_data union
	// into two int32 fields, Fd and Pad, rather than exposing a single
	// uint64 accessor. Packing the low and high 32 bits of token into Fd
	// and Pad respectively uses the full union width, so the poller can
	// hand back a Token rather than a raw fd on Wait — tokens stay valid
	// even after a closed fd is reused by the kernel.
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
	if err := unix.EpollCtl(p.epfd, op, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl(op=%d, fd=%d): %w", op, fd, err)
	}
	return nil
}

// maxEvents bounds a single Wait's batch size.
const maxEvents = 256

// Wait polls for readiness for up to timeoutMillis (the event loop passes
// 1000, spec.md section 4.6 main tick step 2), retrying transparently on
// EINTR.
func (p *Poller) Wait(timeoutMillis int) ([]Event, error) {
	raw := make([]unix.EpollEvent, maxEvents)

	var n int
	for {
		var err error
		n, err = unix.EpollWait(p.epfd, raw, timeoutMillis)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}
		break
	}

	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := raw[i]
		events = append(events, Event{
			Token:    Token(uint32(e.Fd)) | Token(uint32(e.Pad))<<32,
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return events, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	if err := unix.Close(p.epfd); err != nil {
		return fmt.Errorf("close epoll fd: %w", err)
	}
	return nil
}
