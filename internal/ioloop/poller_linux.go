//go:build linux

package ioloop

import (
	"sync"

	"golang.org/x/sys/unix"
)

// maxFDs bounds the direct-index descriptor table, grounded on
// eventloop/poller_linux.go's maxFDs (the same 64k budget: a descriptor
// table sized for "every fd a single process can plausibly hold open").
const maxFDs = 65536

type fdInfo struct {
	callback Callback
	events   IOEvents
	active   bool
}

// epollPoller is the Linux poller, grounded on eventloop/poller_linux.go's
// FastPoller. It drops the teacher's cache-line padding and atomic version
// counter: those exist there to let PollIO run lock-free concurrently with
// RegisterFD from other goroutines, a concern this package doesn't have —
// every call into a Loop happens from the single goroutine holding the
// fiber scheduler's gate (spec.md §4.4), so a plain mutex is enough.
type epollPoller struct {
	epfd     int
	wakeFD   int
	eventBuf [256]unix.EpollEvent
	fds      [maxFDs]fdInfo
	mu       sync.Mutex
	n        int
	closed   bool
}

func (p *epollPoller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd

	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return err
	}
	p.wakeFD = wakeFD

	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, ev); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		return err
	}
	return nil
}

func (p *epollPoller) close() error {
	p.closed = true
	_ = unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}

// wake is grounded on eventloop/wakeup_linux.go's eventfd-based wake:
// safe to call concurrently with a blocked poll() from the
// signal-forwarding goroutine.
func (p *epollPoller) wake() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(p.wakeFD, buf[:])
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFD, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) registerFD(fd int, events IOEvents, cb Callback) error {
	if p.closed {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}

	p.mu.Lock()
	if p.fds[fd].active {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.n++
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		p.fds[fd] = fdInfo{}
		p.n--
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) unregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if !p.fds[fd].active {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdInfo{}
	p.n--
	p.mu.Unlock()

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) modifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if !p.fds[fd].active {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd].events = events
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) poll(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd == p.wakeFD {
			p.drainWake()
			continue
		}
		if fd < 0 || fd >= maxFDs {
			continue
		}
		p.mu.Lock()
		info := p.fds[fd]
		p.mu.Unlock()
		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
	return n, nil
}

func (p *epollPoller) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	if events&EventError != 0 {
		e |= unix.EPOLLERR
	}
	if events&EventHangup != 0 {
		e |= unix.EPOLLHUP
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

func newPoller() poller { return &epollPoller{} }
