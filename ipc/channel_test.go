// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ipc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type faultRecorder struct {
	mu     sync.Mutex
	faults []error
}

func (r *faultRecorder) handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, err)
}

func (r *faultRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.faults)
}

func newPair(t *testing.T, opts ...Option) (host, script *Channel, faults *faultRecorder) {
	t.Helper()
	region, err := CreateRegion("test", 64*1024)
	require.NoError(t, err)

	faults = &faultRecorder{}
	opts = append(opts, WithFaultHandler(faults.handle))
	host = NewChannel(region, SideHost, opts...)
	script = NewChannel(region, SideScript, opts...)
	t.Cleanup(func() {
		host.Close()
		script.Close()
		region.Close()
	})
	return host, script, faults
}

func TestChannel_CallReply(t *testing.T) {
	host, script, faults := newPair(t)
	script.RegisterHandler(uint32(ExecJSWithResult), func(args *Arguments) *Serializer {
		return NewSerializer(args.Op()).AddBytes([]byte(args.String(0) + "!"))
	})
	host.Start()
	script.Start()

	res, err := host.Call(context.Background(), NewSerializer(uint32(ExecJSWithResult)).AddString("ping"))
	require.NoError(t, err)
	require.Equal(t, TypeByteArray, res.Result().Type)
	require.Equal(t, []byte("ping!"), res.Result().Data)
	require.Zero(t, faults.count())
}

func TestChannel_PostsArriveInOrder(t *testing.T) {
	host, script, _ := newPair(t)
	got := make(chan int32, 100)
	script.RegisterHandler(uint32(ExecJS), func(args *Arguments) *Serializer {
		got <- args.Int32(0)
		return nil
	})
	host.Start()
	script.Start()

	for i := int32(0); i < 100; i++ {
		require.NoError(t, host.Post(NewSerializer(uint32(ExecJS)).AddInt32(i)))
	}
	for i := int32(0); i < 100; i++ {
		select {
		case v := <-got:
			require.Equal(t, i, v)
		case <-time.After(5 * time.Second):
			t.Fatalf("post %d not delivered", i)
		}
	}
}

func TestChannel_NestedCallFromHandler(t *testing.T) {
	host, script, _ := newPair(t)
	host.RegisterHandler(uint32(CallNativeModule), func(args *Arguments) *Serializer {
		return NewSerializer(args.Op()).AddJSONString(`{"ok":true}`)
	})
	script.RegisterHandler(uint32(ExecJSWithResult), func(args *Arguments) *Serializer {
		res, err := script.Call(context.Background(), NewSerializer(uint32(CallNativeModule)).AddString("m"))
		if err != nil {
			return nil
		}
		return NewSerializer(args.Op()).AddString(NewArguments(&Message{Segs: []Segment{res.Result()}}).String(0))
	})
	host.Start()
	script.Start()

	res, err := host.Call(context.Background(), NewSerializer(uint32(ExecJSWithResult)))
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, NewArguments(&Message{Segs: []Segment{res.Result()}}).String(0))
}

func TestChannel_CallTimeout(t *testing.T) {
	host, script, _ := newPair(t, WithCallTimeout(50*time.Millisecond))
	release := make(chan struct{})
	script.RegisterHandler(uint32(DestroyInstance), func(args *Arguments) *Serializer {
		<-release
		return NewSerializer(args.Op()).AddInt32(1)
	})
	host.Start()
	script.Start()

	start := time.Now()
	res, err := host.Call(context.Background(), NewSerializer(uint32(DestroyInstance)).AddString("p"))
	require.ErrorIs(t, err, ErrCallTimeout)
	require.Nil(t, res)
	require.Less(t, time.Since(start), 2*time.Second)
	close(release)
}

func TestChannel_UnknownOpcodeIsFault(t *testing.T) {
	host, script, faults := newPair(t)
	host.Start()
	script.Start()

	res, err := host.Call(context.Background(), NewSerializer(777))
	require.NoError(t, err)
	require.Equal(t, TypeVoid, res.Result().Type)
	require.Equal(t, 1, faults.count())
	require.ErrorIs(t, faults.faults[0], ErrUnknownOpcode)
}

func TestChannel_SegmentShapeIsFault(t *testing.T) {
	host, script, faults := newPair(t)
	script.RegisterHandler(uint32(SetLogLevel), func(args *Arguments) *Serializer {
		args.Int32(0)
		return NewSerializer(args.Op()).AddInt32(1)
	})
	host.Start()
	script.Start()

	res, err := host.Call(context.Background(), NewSerializer(uint32(SetLogLevel)).AddString("not an int"))
	require.NoError(t, err)
	require.Equal(t, TypeVoid, res.Result().Type)
	require.Equal(t, 1, faults.count())
	require.ErrorIs(t, faults.faults[0], ErrMalformedFrame)
}

func TestChannel_OversizedFrameIsFault(t *testing.T) {
	host, script, faults := newPair(t)
	host.Start()
	script.Start()

	err := host.Post(NewSerializer(uint32(ExecJS)).AddBytes(make([]byte, 128*1024)))
	require.ErrorIs(t, err, ErrFrameTooLarge)
	require.Equal(t, 1, faults.count())
}

func TestChannel_ClosedIsNoop(t *testing.T) {
	host, script, _ := newPair(t)
	host.Start()
	script.Start()

	require.NoError(t, script.Close())
	select {
	case <-host.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("host did not observe peer close")
	}
	require.NoError(t, host.Post(NewSerializer(uint32(ExecJS))))
	_, err := host.Call(context.Background(), NewSerializer(uint32(ExecJSWithResult)))
	require.ErrorIs(t, err, ErrClosed)

	var nilChannel *Channel
	require.NoError(t, nilChannel.Post(NewSerializer(uint32(ExecJS))))
}

func TestChannel_LargeTrafficWraps(t *testing.T) {
	host, script, _ := newPair(t)
	script.RegisterHandler(uint32(ExecJSWithResult), func(args *Arguments) *Serializer {
		return NewSerializer(args.Op()).AddBytes(args.Bytes(0))
	})
	host.Start()
	script.Start()

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}
	for i := 0; i < 50; i++ {
		res, err := host.Call(context.Background(), NewSerializer(uint32(ExecJSWithResult)).AddBytes(payload))
		require.NoError(t, err)
		require.Equal(t, payload, res.Result().Data)
	}
}

func TestRegion_OpenFromFd(t *testing.T) {
	region, err := CreateRegion("open", 8192)
	require.NoError(t, err)
	defer region.Close()

	f, err := region.File()
	require.NoError(t, err)
	defer f.Close()

	peer, err := OpenRegion(int(f.Fd()))
	require.NoError(t, err)
	defer peer.Close()
	require.Equal(t, region.RingSize(), peer.RingSize())

	a := NewChannel(region, SideHost, WithFaultHandler(func(error) {}))
	b := NewChannel(peer, SideScript, WithFaultHandler(func(error) {}))
	b.RegisterHandler(uint32(ExecJSOnInstance), func(args *Arguments) *Serializer {
		return NewSerializer(args.Op()).AddString(args.String(0))
	})
	a.Start()
	b.Start()
	defer a.Close()
	defer b.Close()

	res, err := a.Call(context.Background(), NewSerializer(uint32(ExecJSOnInstance)).AddString("mapped twice"))
	require.NoError(t, err)
	require.Equal(t, "mapped twice", NewArguments(&Message{Segs: []Segment{res.Result()}}).String(0))
}
