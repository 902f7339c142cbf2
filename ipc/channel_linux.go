// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrCallTimeout is returned by Call when no reply arrives in time.
	// Callers degrade to a void result.
	ErrCallTimeout = errors.New("ipc: call timed out")
	// ErrUnknownOpcode reports a request for which no handler is registered.
	ErrUnknownOpcode = errors.New("ipc: unknown opcode")
)

// Handler serves one opcode. The returned serializer is the reply of a call;
// nil replies void. For posts the return value is ignored.
type Handler func(args *Arguments) *Serializer

// Channel is one endpoint of the transport.
//
// A listener goroutine reads frames from the inbound ring, hands replies to
// waiting callers and queues requests for a single dispatcher goroutine,
// which runs handlers in arrival order. Sends are serialized.
//
// A nil or closed Channel accepts every send as a no-op.
type Channel struct {
	side Side
	in   *ring
	out  *ring
	opts *channelOptions

	sendMu sync.Mutex
	seq    atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan *Message
	handlers map[uint32]Handler

	queue     *msgQueue
	stop      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	started   atomic.Bool
	closeOnce sync.Once
}

// NewChannel returns an endpoint on region for the given side. Handlers are
// registered before Start.
func NewChannel(region *Region, side Side, opts ...Option) *Channel {
	o := &channelOptions{
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.faultHandler == nil {
		logger := o.logger
		o.faultHandler = func(err error) {
			logger.Error("IPC protocol fault, terminating", "side", side.String(), "error", err)
			os.Exit(1)
		}
	}

	in, out := region.ring(0), region.ring(1)
	if side == SideHost {
		in, out = out, in
	}
	return &Channel{
		side:     side,
		in:       in,
		out:      out,
		opts:     o,
		pending:  make(map[uint64]chan *Message),
		handlers: make(map[uint32]Handler),
		queue:    newMsgQueue(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RegisterHandler installs h for opcode op.
func (c *Channel) RegisterHandler(op uint32, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[op] = h
}

// Start launches the listener and the dispatcher.
func (c *Channel) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(2)
	go c.listen()
	go c.dispatch()
}

// Done is closed when the channel stops receiving, either because Close was
// called or because the peer closed its side.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Post sends a fire-and-forget message.
func (c *Channel) Post(s *Serializer) error {
	if c == nil || c.closed.Load() {
		return nil
	}
	msg := s.msg
	msg.Kind = KindPost
	msg.Seq = c.seq.Add(1)
	err := c.send(&msg, time.Time{})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Call sends a request and waits for its reply. Without a deadline on ctx
// the channel's call timeout applies.
func (c *Channel) Call(ctx context.Context, s *Serializer) (*Arguments, error) {
	if c == nil || c.closed.Load() {
		return nil, ErrClosed
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.callTimeout)
	}

	msg := s.msg
	msg.Kind = KindCall
	msg.Seq = c.seq.Add(1)
	ch := make(chan *Message, 1)
	c.mu.Lock()
	c.pending[msg.Seq] = ch
	c.mu.Unlock()

	if err := c.send(&msg, deadline); err != nil {
		c.forget(msg.Seq)
		return nil, err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return NewArguments(reply), nil
	case <-timer.C:
		c.forget(msg.Seq)
		c.opts.logger.Warn("IPC call timed out", "op", c.outName(msg.Op), "seq", msg.Seq)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		c.forget(msg.Seq)
		return nil, ctx.Err()
	}
}

// Close stops both goroutines and marks both rings closed so the peer stops
// too. Pending calls fail with ErrClosed. Close must not be called from a
// handler.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.out.close()
		c.in.close()
		c.queue.close()
		if c.started.Load() {
			c.wg.Wait()
		} else {
			close(c.done)
		}
		c.failPending()
	})
	return nil
}

func (c *Channel) send(msg *Message, deadline time.Time) error {
	frame, err := msg.marshal()
	if err == nil && len(frame) > int(c.out.size) {
		err = fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	if err != nil {
		c.opts.faultHandler(fmt.Errorf("send %s: %w", c.outName(msg.Op), err))
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.out.write(frame, deadline)
}

func (c *Channel) forget(seq uint64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Channel) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
}

func (c *Channel) listen() {
	defer c.wg.Done()
	defer close(c.done)
	defer c.queue.close()
	defer c.failPending()
	defer c.closed.Store(true)

	for {
		frame, err := c.in.read(c.stop)
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				c.opts.faultHandler(err)
			}
			return
		}
		msg, err := unmarshalMessage(frame)
		if err != nil {
			c.opts.faultHandler(err)
			continue
		}
		if msg.Kind == KindReply {
			c.mu.Lock()
			ch := c.pending[msg.Seq]
			delete(c.pending, msg.Seq)
			c.mu.Unlock()
			if ch == nil {
				c.opts.logger.Debug("Dropping late IPC reply", "op", c.outName(msg.Op), "seq", msg.Seq)
				continue
			}
			ch <- msg
			continue
		}
		c.queue.push(msg)
	}
}

func (c *Channel) dispatch() {
	defer c.wg.Done()
	for {
		msg, ok := c.queue.pop()
		if !ok {
			return
		}
		c.handle(msg)
	}
}

func (c *Channel) handle(msg *Message) {
	c.mu.Lock()
	h := c.handlers[msg.Op]
	c.mu.Unlock()
	if h == nil {
		c.opts.faultHandler(fmt.Errorf("%w: %s", ErrUnknownOpcode, c.inName(msg.Op)))
		c.reply(msg, nil)
		return
	}
	c.reply(msg, c.invoke(h, msg))
}

func (c *Channel) invoke(h Handler, msg *Message) (reply *Serializer) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			if pf, ok := r.(protocolFault); ok {
				c.opts.faultHandler(fmt.Errorf("%s: %w", c.inName(msg.Op), pf.err))
				return
			}
			c.opts.logger.Error("Panic recovered in IPC handler", "op", c.inName(msg.Op), "error", r)
		}
	}()
	return h(NewArguments(msg))
}

func (c *Channel) reply(msg *Message, s *Serializer) {
	if msg.Kind != KindCall {
		return
	}
	out := Message{Op: msg.Op, Kind: KindReply, Seq: msg.Seq}
	if s != nil {
		out.Segs = s.msg.Segs
	}
	if err := c.send(&out, time.Time{}); err != nil && !errors.Is(err, ErrClosed) {
		c.opts.logger.Error("Failed to send IPC reply", "op", c.inName(msg.Op), "error", err)
	}
}

// inName names an opcode arriving on this endpoint, outName one it sends.
func (c *Channel) inName(op uint32) string {
	if c.side == SideScript {
		return JSMsg(op).String()
	}
	return ProxyMsg(op).String()
}

func (c *Channel) outName(op uint32) string {
	if c.side == SideScript {
		return ProxyMsg(op).String()
	}
	return JSMsg(op).String()
}
