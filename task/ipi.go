package task

import "runtime"
import "sync"

/// Ipimsg_t is the machine-software-interrupt message type exchanged
/// between harts.
type Ipimsg_t int

const (
	IpiNone Ipimsg_t = iota
	IpiInitHart
	IpiPanic
	IpiYieldTask
)

/// Ipisender_i raises the machine software interrupt on a hart.
type Ipisender_i interface {
	Raise(hartid int)
}

/// Ipislot_t is the single global message slot. Two locks implement a
/// single-producer handshake to one recipient: the sender lock
/// serializes producers, the slot lock guards the message itself.
type Ipislot_t struct {
	sender sync.Mutex
	slot   sync.Mutex
	msg    Ipimsg_t
	target int
	sent   Ipisender_i
}

/// Ipi is the global inter-hart message slot.
var Ipi = &Ipislot_t{target: -1}

/// Setsender installs the machine IPI raiser.
func (s *Ipislot_t) Setsender(raise Ipisender_i) {
	s.sent = raise
}

/// Send delivers msg to the hart and spins until it is consumed.
func (s *Ipislot_t) Send(hartid int, msg Ipimsg_t) {
	s.sender.Lock()
	s.slot.Lock()
	s.msg = msg
	s.target = hartid
	s.slot.Unlock()
	if s.sent != nil {
		s.sent.Raise(hartid)
	}
	for {
		s.slot.Lock()
		done := s.msg == IpiNone
		s.slot.Unlock()
		if done {
			break
		}
		runtime.Gosched()
	}
	s.sender.Unlock()
}

/// Receive consumes the pending message for the hart, if any.
func (s *Ipislot_t) Receive(hartid int) Ipimsg_t {
	s.slot.Lock()
	defer s.slot.Unlock()
	if s.target != hartid || s.msg == IpiNone {
		return IpiNone
	}
	m := s.msg
	s.msg = IpiNone
	s.target = -1
	return m
}

/// Broadcast sends msg to every hart except self in turn.
func (s *Ipislot_t) Broadcast(self int, msg Ipimsg_t) {
	Harts(func(h *Hart_t) {
		if h.Id != self {
			s.Send(h.Id, msg)
		}
	})
}
