package core

// transport.go implements the Message Transport State Machine of spec §4.3:
// AWAIT_HANDSHAKE → STREAMING → CLOSING → CLOSED, driving one Connection
// through readLoop (pull input → framer → registry dispatch) and writeLoop
// (drain outbound queue) with back-pressure via the outbound queue's soft cap.
//
// The cooperative-scheduler yield points spec §5 describes (NEED_MORE,
// EAGAIN, ...) are naturally expressed here as a blocking Connection.ReadMore
// call inside a dedicated goroutine rather than a re-armed callback: a Go
// goroutine blocked in a syscall already yields the OS thread to the
// runtime scheduler, which is the same structural property a cooperative
// yield buys the original ucontext design, without hand-rolled stack
// switching (Design Notes §9). The outbound side runs in a second goroutine
// that parks on Scheduler timers while the queue is empty, so a slow peer's
// writes don't block frame parsing.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// writeLoopIdleDelay bounds how long the write-drain loop parks between
// empty-queue checks instead of busy-spinning a worker.
const writeLoopIdleDelay = 20 * time.Millisecond

func nowUnix() int64 { return time.Now().Unix() }

type TransportState int32

const (
	AwaitHandshake TransportState = iota
	Streaming
	Closing
	Closed
)

func (s TransportState) String() string {
	switch s {
	case AwaitHandshake:
		return "AWAIT_HANDSHAKE"
	case Streaming:
		return "STREAMING"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Dispatcher receives decoded frames from a Transport. Peer implements this
// to drive the protocol FSM (spec §4.5).
type Dispatcher interface {
	OnMessage(command string, msg Message, payload []byte) error
	OnHandshakeComplete() error
	OnUnknownCommand(command string)
	OnClose(reason error)
}

// Transport owns one Connection's read/dispatch/write loop.
type Transport struct {
	conn      *Connection
	magic     uint32
	state     int32 // atomic TransportState
	outbound  *MessageQueue
	sched     *Scheduler
	dispatch  Dispatcher
	log       *logrus.Logger
	health    *HealthLogger
	firewall  *Firewall
	readChunk int
}

// NewTransport wires conn to dispatch, running frame parsing against magic.
// outboundCap bounds the soft back-pressure cap on queued outbound messages.
func NewTransport(conn *Connection, magic uint32, dispatch Dispatcher, sched *Scheduler, log *logrus.Logger, health *HealthLogger, fw *Firewall, outboundCap int) *Transport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Transport{
		conn:      conn,
		magic:     magic,
		outbound:  NewMessageQueue(outboundCap),
		sched:     sched,
		dispatch:  dispatch,
		log:       log,
		health:    health,
		firewall:  fw,
		readChunk: 64 * 1024,
	}
	atomic.StoreInt32(&t.state, int32(AwaitHandshake))
	return t
}

func (t *Transport) State() TransportState { return TransportState(atomic.LoadInt32(&t.state)) }

func (t *Transport) setState(s TransportState) {
	atomic.StoreInt32(&t.state, int32(s))
}

// Start launches the blocking read loop and the write-drain loop, each in
// its own goroutine, so neither holds a Scheduler worker.
func (t *Transport) Start() {
	if t.firewall != nil {
		if err := t.firewall.CheckAddr(t.conn.RemoteAddr()); err != nil {
			t.closeWith(err)
			return
		}
	}
	go t.readLoop()
	go t.writeLoop()
}

// Send enqueues command/payload for transmission, applying back-pressure per
// spec §4.3. Callers (Peer) should treat ErrQueueFull as "slow down", not as
// a transport-fatal error.
func (t *Transport) Send(command string, payload []byte) error {
	if t.State() == Closed || t.State() == Closing {
		return fmt.Errorf("transport: send on %s connection", t.State())
	}
	return t.outbound.Enqueue(NetworkMessage{Topic: command, Content: payload, Timestamp: nowUnix()})
}

func (t *Transport) readLoop() {
	for {
		if t.State() == Closed {
			return
		}
		buf, err := t.conn.ReadMore(t.readChunk)
		if t.health != nil {
			t.health.RecordBytes(uint64(len(buf)), 0)
		}
		consumedTotal := 0
		for {
			hdr, payload, consumed, perr := ParseFrame(buf[consumedTotal:], t.magic)
			if perr == ErrNeedMore {
				break
			}
			if perr != nil {
				if t.health != nil {
					t.health.RecordProtocolError()
				}
				t.closeWith(perr)
				return
			}
			consumedTotal += consumed
			t.handleFrame(hdr.Command, payload)
		}
		if consumedTotal > 0 {
			t.conn.Consume(consumedTotal)
		}
		if err != nil {
			if err == io.EOF {
				t.closeWith(nil)
			} else {
				t.closeWith(err)
			}
			return
		}
	}
}

func (t *Transport) handleFrame(command string, payload []byte) {
	msg, ok := NewMessage(command)
	if !ok {
		// Unknown command: log and ignore, never a protocol error (spec §4.5/§7).
		t.log.WithField("command", command).Debug("unknown wire command, ignoring")
		t.dispatch.OnUnknownCommand(command)
		return
	}
	r := bytes.NewReader(payload)
	if err := msg.Unserialize(r); err != nil {
		if t.health != nil {
			t.health.RecordProtocolError()
		}
		t.closeWith(fmt.Errorf("decode %s: %w", command, err))
		return
	}
	if command == CmdVerAck && t.State() == AwaitHandshake {
		t.setState(Streaming)
		if err := t.dispatch.OnHandshakeComplete(); err != nil {
			t.closeWith(err)
			return
		}
	}
	if err := t.dispatch.OnMessage(command, msg, payload); err != nil {
		if _, ok := err.(*ProtocolError); ok && t.health != nil {
			t.health.RecordProtocolError()
		}
		t.closeWith(err)
	}
}

func (t *Transport) writeLoop() {
	for {
		if t.State() == Closed {
			return
		}
		msg, err := t.outbound.Dequeue()
		if err != nil {
			// Queue empty: back off briefly by rescheduling via the timer
			// rather than busy-spinning the worker.
			done := make(chan struct{})
			t.sched.After(writeLoopIdleDelay, func(ctx context.Context) { close(done) })
			<-done
			continue
		}
		if err := EncodeFrame(t.conn, t.magic, msg.Topic, msg.Content); err != nil {
			t.closeWith(err)
			return
		}
		if t.health != nil {
			t.health.RecordBytes(0, uint64(len(msg.Content)))
		}
	}
}

func (t *Transport) closeWith(reason error) {
	prev := t.State()
	if prev == Closed {
		return
	}
	t.setState(Closing)
	_ = t.conn.Close()
	t.setState(Closed)
	t.dispatch.OnClose(reason)
}

// Close requests an orderly shutdown of the transport.
func (t *Transport) Close() { t.closeWith(nil) }
