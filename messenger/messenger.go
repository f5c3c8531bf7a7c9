package messenger

import (
	"sync/atomic"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/frame"
	"github.com/opencardev/aahead/promise"
)

type sendEntry struct {
	msg     frame.Message
	promise *promise.Promise[struct{}]
}

// Messenger is the per-channel front end service objects call into:
// EnqueueReceive/EnqueueSend, demultiplexed by frame.ChannelID, with a
// single fair FIFO send queue shared across every channel.
type Messenger struct {
	receiveStrand *executor.Strand
	sendStrand    *executor.Strand

	in  *InStream
	out *OutStream

	// At most one of promiseQueue[ch]/messageQueue[ch] is non-empty
	// for any given channel at any time.
	promiseQueue map[frame.ChannelID][]*promise.Promise[frame.Message]
	messageQueue map[frame.ChannelID][]frame.Message
	pendingCount int

	sendQueue           []*sendEntry
	maxOutstandingSends int

	stopped atomic.Bool
}

// New builds a Messenger sitting on top of in/out, dispatching its two
// strands through base. maxOutstandingSends bounds the send queue (0
// = unbounded).
func New(base executor.Executor, in *InStream, out *OutStream, maxOutstandingSends int) *Messenger {
	return &Messenger{
		receiveStrand:       executor.NewStrand(base),
		sendStrand:          executor.NewStrand(base),
		in:                  in,
		out:                 out,
		promiseQueue:        map[frame.ChannelID][]*promise.Promise[frame.Message]{},
		messageQueue:        map[frame.ChannelID][]frame.Message{},
		maxOutstandingSends: maxOutstandingSends,
	}
}

// EnqueueReceive requests the next message on ch. If one has already
// arrived and is buffered, the returned promise resolves immediately
// with no further wire activity; otherwise it resolves once a message
// for ch completes on the wire.
func (m *Messenger) EnqueueReceive(ch frame.ChannelID) *promise.Promise[frame.Message] {
	p := promise.New[frame.Message](m.receiveStrand)
	m.receiveStrand.Post(func() {
		if m.stopped.Load() {
			p.Reject(aaerr.New(aaerr.KindOperationAborted))
			return
		}

		if queued := m.messageQueue[ch]; len(queued) > 0 {
			msg := queued[0]
			m.messageQueue[ch] = queued[1:]
			p.Resolve(msg)
			return
		}

		m.promiseQueue[ch] = append(m.promiseQueue[ch], p)
		m.pendingCount++
		if m.pendingCount == 1 {
			m.armReceive()
		}
	})
	return p
}

// armReceive starts (or re-starts) pulling the next message from
// InStream, forwarding its settlement onto receiveStrand regardless of
// which strand InStream itself runs on.
func (m *Messenger) armReceive() {
	inner := m.in.StartReceive()
	link := promise.New[frame.Message](m.receiveStrand)
	promise.Link(inner, link)
	link.Then(m.onMessage, m.rejectAllReceive)
}

// onMessage runs on receiveStrand: route the completed message to
// whichever promise is waiting on its channel, or buffer it, then
// re-arm if any channel is still owed a message.
func (m *Messenger) onMessage(msg frame.Message) {
	ch := msg.ChannelID
	if queued := m.promiseQueue[ch]; len(queued) > 0 {
		p := queued[0]
		m.promiseQueue[ch] = queued[1:]
		m.pendingCount--
		p.Resolve(msg)
	} else {
		m.messageQueue[ch] = append(m.messageQueue[ch], msg)
	}

	if m.pendingCount > 0 {
		m.armReceive()
	}
}

func (m *Messenger) rejectAllReceive(err error) {
	for ch, queued := range m.promiseQueue {
		for _, p := range queued {
			p.Reject(err)
		}
		delete(m.promiseQueue, ch)
	}
	m.pendingCount = 0
}

// EnqueueSend appends msg to the global send queue, resolving once it
// has been written to the wire. Sends complete strictly in FIFO order
// across every channel. If maxOutstandingSends is set and exceeded,
// the promise rejects immediately with SEND_QUEUE_OVERFLOW.
func (m *Messenger) EnqueueSend(msg frame.Message) *promise.Promise[struct{}] {
	p := promise.New[struct{}](m.sendStrand)
	m.sendStrand.Post(func() {
		if m.stopped.Load() {
			p.Reject(aaerr.New(aaerr.KindOperationAborted))
			return
		}
		if m.maxOutstandingSends > 0 && len(m.sendQueue) >= m.maxOutstandingSends {
			p.Reject(aaerr.New(aaerr.KindSendQueueOverflow))
			return
		}
		m.sendQueue = append(m.sendQueue, &sendEntry{msg: msg, promise: p})
		if len(m.sendQueue) == 1 {
			m.doSend()
		}
	})
	return p
}

func (m *Messenger) doSend() {
	front := m.sendQueue[0]
	m.out.Stream(m.sendStrand, front.msg).Then(
		func(struct{}) {
			m.sendQueue = m.sendQueue[1:]
			front.promise.Resolve(struct{}{})
			if len(m.sendQueue) > 0 {
				m.doSend()
			}
		},
		func(err error) {
			queue := m.sendQueue
			m.sendQueue = nil
			for _, e := range queue {
				e.promise.Reject(err)
			}
		},
	)
}

// Stop rejects every queued receive and send promise with
// OPERATION_ABORTED and clears buffered state. Idempotent; safe to
// call from any goroutine.
func (m *Messenger) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	m.receiveStrand.Post(func() {
		m.rejectAllReceive(aaerr.New(aaerr.KindOperationAborted))
		m.messageQueue = map[frame.ChannelID][]frame.Message{}
	})
	m.sendStrand.Post(func() {
		queue := m.sendQueue
		m.sendQueue = nil
		for _, e := range queue {
			e.promise.Reject(aaerr.New(aaerr.KindOperationAborted))
		}
	})
}
