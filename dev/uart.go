package dev

import (
	"io"
	"sync"
)

import "goros/defs"

const uartBufInit = 256

/// Uart_t is the console character device: output goes straight to the
/// sink, input is drained by the interrupt path into a growable circular
/// buffer and handed out by Read. Head and tail only grow between
/// resizes, which rebase them to zero; indices are taken modulo the
/// buffer size.
type Uart_t struct {
	sync.Mutex
	out   io.Writer
	buf   []uint8
	head  int
	tail  int
	ready []func()
}

/// Mkuart creates a console device writing to out.
func Mkuart(out io.Writer) *Uart_t {
	return &Uart_t{out: out, buf: make([]uint8, uartBufInit)}
}

func (u *Uart_t) used() int { return u.head - u.tail }

func (u *Uart_t) grow() {
	nb := make([]uint8, len(u.buf)*2)
	n := u.used()
	for i := 0; i < n; i++ {
		nb[i] = u.buf[(u.tail+i)%len(u.buf)]
	}
	u.buf = nb
	u.tail = 0
	u.head = n
}

/// Input feeds received bytes into the buffer and wakes the waiters.
/// It is called from the interrupt path.
func (u *Uart_t) Input(data []uint8) {
	u.Lock()
	for _, c := range data {
		if u.used() == len(u.buf) {
			u.grow()
		}
		u.buf[u.head%len(u.buf)] = c
		u.head++
	}
	hooks := make([]func(), len(u.ready))
	copy(hooks, u.ready)
	u.Unlock()
	for _, f := range hooks {
		f()
	}
}

func (u *Uart_t) Read(buf []uint8) (int, defs.Err_t) {
	u.Lock()
	defer u.Unlock()
	n := 0
	for n < len(buf) && u.used() > 0 {
		buf[n] = u.buf[u.tail%len(u.buf)]
		u.tail++
		n++
	}
	return n, 0
}

func (u *Uart_t) Write(buf []uint8) (int, defs.Err_t) {
	if u.out == nil {
		return len(buf), 0
	}
	n, err := u.out.Write(buf)
	if err != nil {
		return n, -defs.EIO
	}
	return n, 0
}

func (u *Uart_t) Readready() bool {
	u.Lock()
	defer u.Unlock()
	return u.used() > 0
}

func (u *Uart_t) Onready(f func()) {
	u.Lock()
	u.ready = append(u.ready, f)
	u.Unlock()
}
