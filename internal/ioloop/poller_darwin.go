//go:build darwin

package ioloop

import (
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

type fdInfo struct {
	callback Callback
	events   IOEvents
	active   bool
}

// kqueuePoller is the Darwin poller, grounded on eventloop/poller_darwin.go's
// FastPoller, with the same simplification as poller_linux.go: a plain
// mutex instead of an RWMutex plus atomic closed flag, since every call
// into a Loop already happens from the single goroutine holding the fiber
// scheduler's gate.
type kqueuePoller struct {
	kq                  int
	wakeRead, wakeWrite int
	eventBuf            [256]unix.Kevent_t
	fds                 []fdInfo
	mu                  sync.Mutex
	n                   int
	closed              bool
}

func (p *kqueuePoller) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.fds = make([]fdInfo, 1024)

	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		_ = unix.Close(kq)
		return err
	}
	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])
	_ = syscall.SetNonblock(fds[0], true)
	_ = syscall.SetNonblock(fds[1], true)
	p.wakeRead, p.wakeWrite = fds[0], fds[1]

	kevents := eventsToKevents(p.wakeRead, EventRead, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(kq, kevents, nil, nil); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		_ = unix.Close(kq)
		return err
	}
	return nil
}

func (p *kqueuePoller) close() error {
	p.closed = true
	syscall.Close(p.wakeRead)
	syscall.Close(p.wakeWrite)
	return unix.Close(p.kq)
}

// wake is grounded on eventloop/wakeup_darwin.go's self-pipe: Darwin has
// no eventfd, so the read and write ends are distinct descriptors.
func (p *kqueuePoller) wake() {
	var b [1]byte
	_, _ = syscall.Write(p.wakeWrite, b[:])
}

func (p *kqueuePoller) drainWake() {
	var buf [64]byte
	for {
		if _, err := syscall.Read(p.wakeRead, buf[:]); err != nil {
			return
		}
	}
}

func (p *kqueuePoller) growLocked(fd int) {
	if fd < len(p.fds) {
		return
	}
	newFds := make([]fdInfo, fd*2+1)
	copy(newFds, p.fds)
	p.fds = newFds
}

func (p *kqueuePoller) registerFD(fd int, events IOEvents, cb Callback) error {
	if p.closed {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.mu.Lock()
	p.growLocked(fd)
	if p.fds[fd].active {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.n++
	p.mu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			p.mu.Lock()
			p.fds[fd] = fdInfo{}
			p.n--
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) unregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	events := p.fds[fd].events
	p.fds[fd] = fdInfo{}
	p.n--
	p.mu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) > 0 {
		_, _ = unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) modifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	old := p.fds[fd].events
	p.fds[fd].events = events
	p.mu.Unlock()

	if old&^events != 0 {
		if kevents := eventsToKevents(fd, old&^events, unix.EV_DELETE); len(kevents) > 0 {
			_, _ = unix.Kevent(p.kq, kevents, nil, nil)
		}
	}
	if events&^old != 0 {
		if kevents := eventsToKevents(fd, events&^old, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
			if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *kqueuePoller) poll(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMs / 1000), Nsec: int64((timeoutMs % 1000) * 1000000)}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd == p.wakeRead {
			p.drainWake()
			continue
		}
		if fd < 0 || fd >= len(p.fds) {
			continue
		}
		p.mu.Lock()
		info := p.fds[fd]
		p.mu.Unlock()
		if info.active && info.callback != nil {
			info.callback(keventToEvents(&p.eventBuf[i]))
		}
	}
	return n, nil
}

func (p *kqueuePoller) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}

func newPoller() poller { return &kqueuePoller{} }
