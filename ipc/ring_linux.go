// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"
)

// ErrClosed is returned by ring and channel operations after either side closed.
var ErrClosed = errors.New("ipc: channel closed")

// waitSlice bounds one futex sleep so local shutdown is noticed promptly.
const waitSlice = 50 * time.Millisecond

// ring is a single-producer single-consumer byte queue in shared memory.
// head and tail are monotonically increasing byte counters; the producer
// publishes a whole frame by advancing tail after copying it.
type ring struct {
	head     *uint64
	tail     *uint64
	dataSeq  *uint32
	spaceSeq *uint32
	closed   *uint32
	data     []byte
	size     uint64
}

func newRing(hdr, data []byte) *ring {
	return &ring{
		head:     (*uint64)(unsafe.Pointer(&hdr[0])),
		tail:     (*uint64)(unsafe.Pointer(&hdr[8])),
		dataSeq:  (*uint32)(unsafe.Pointer(&hdr[16])),
		spaceSeq: (*uint32)(unsafe.Pointer(&hdr[20])),
		closed:   (*uint32)(unsafe.Pointer(&hdr[24])),
		data:     data,
		size:     uint64(len(data)),
	}
}

func (r *ring) isClosed() bool {
	return atomic.LoadUint32(r.closed) != 0
}

func (r *ring) close() {
	atomic.StoreUint32(r.closed, 1)
	atomic.AddUint32(r.dataSeq, 1)
	atomic.AddUint32(r.spaceSeq, 1)
	futexWake(r.dataSeq)
	futexWake(r.spaceSeq)
}

// write blocks until frame fits, then copies it in and signals the reader.
func (r *ring) write(frame []byte, deadline time.Time) error {
	n := uint64(len(frame))
	if n > r.size {
		return fmt.Errorf("%w: %d bytes, ring holds %d", ErrFrameTooLarge, n, r.size)
	}
	for {
		if r.isClosed() {
			return ErrClosed
		}
		seq := atomic.LoadUint32(r.spaceSeq)
		tail := atomic.LoadUint64(r.tail)
		if r.size-(tail-atomic.LoadUint64(r.head)) >= n {
			r.copyIn(tail, frame)
			atomic.StoreUint64(r.tail, tail+n)
			atomic.AddUint32(r.dataSeq, 1)
			futexWake(r.dataSeq)
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrCallTimeout
		}
		if err := futexWait(r.spaceSeq, seq, waitSlice); err != nil {
			return fmt.Errorf("futex wait: %w", err)
		}
	}
}

// read blocks until one frame is available and returns a private copy.
// stop is polled between waits so the local side can shut down.
func (r *ring) read(stop <-chan struct{}) ([]byte, error) {
	for {
		seq := atomic.LoadUint32(r.dataSeq)
		head := atomic.LoadUint64(r.head)
		if atomic.LoadUint64(r.tail) != head {
			var lenBuf [4]byte
			r.copyOut(head, lenBuf[:])
			n := uint64(binary.NativeEndian.Uint32(lenBuf[:]))
			if n < frameHeaderSize || n > r.size || atomic.LoadUint64(r.tail)-head < n {
				return nil, fmt.Errorf("%w: ring frame length %d", ErrMalformedFrame, n)
			}
			frame := make([]byte, n)
			r.copyOut(head, frame)
			atomic.StoreUint64(r.head, head+n)
			atomic.AddUint32(r.spaceSeq, 1)
			futexWake(r.spaceSeq)
			return frame, nil
		}
		if r.isClosed() {
			return nil, ErrClosed
		}
		select {
		case <-stop:
			return nil, ErrClosed
		default:
		}
		if err := futexWait(r.dataSeq, seq, waitSlice); err != nil {
			return nil, fmt.Errorf("futex wait: %w", err)
		}
	}
}

func (r *ring) copyIn(pos uint64, src []byte) {
	off := pos % r.size
	n := copy(r.data[off:], src)
	if n < len(src) {
		copy(r.data, src[n:])
	}
}

func (r *ring) copyOut(pos uint64, dst []byte) {
	off := pos % r.size
	n := copy(dst, r.data[off:])
	if n < len(dst) {
		copy(dst[n:], r.data)
	}
}
