// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	regionMagic   uint32 = 0x4a534252 // "JSBR"
	regionVersion uint32 = 1

	headerSize      = 4096
	ringHeaderBase  = 64
	ringHeaderSize  = 64
	minRingSize     = 4096
	DefaultRingSize = 1 << 20
)

// Side selects which ring an endpoint writes and which it reads.
type Side int

const (
	// SideHost writes ring 0 and reads ring 1.
	SideHost Side = iota
	// SideScript writes ring 1 and reads ring 0.
	SideScript
)

func (s Side) String() string {
	if s == SideHost {
		return "host"
	}
	return "script"
}

// Region is the shared mapping: a header page followed by two rings.
type Region struct {
	fd       int
	mem      []byte
	ringSize int
	once     sync.Once
}

// CreateRegion allocates a new anonymous shared region backed by a memfd.
// ringSize is rounded up to a multiple of the page size.
func CreateRegion(name string, ringSize int) (*Region, error) {
	if ringSize < minRingSize {
		ringSize = minRingSize
	}
	ringSize = (ringSize + minRingSize - 1) &^ (minRingSize - 1)
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	size := headerSize + 2*ringSize
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	binary.NativeEndian.PutUint32(mem[0:], regionMagic)
	binary.NativeEndian.PutUint32(mem[4:], regionVersion)
	binary.NativeEndian.PutUint32(mem[8:], uint32(ringSize))
	return &Region{fd: fd, mem: mem, ringSize: ringSize}, nil
}

// OpenRegion maps a region created by another process from an inherited
// file descriptor. The descriptor is duplicated; the caller keeps ownership
// of fd.
func OpenRegion(fd int) (*Region, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("dup: %w", err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(dup, &st); err != nil {
		unix.Close(dup)
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if st.Size < headerSize+2*minRingSize {
		unix.Close(dup)
		return nil, fmt.Errorf("region of %d bytes is too small", st.Size)
	}
	mem, err := unix.Mmap(dup, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(dup)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	if binary.NativeEndian.Uint32(mem[0:]) != regionMagic || binary.NativeEndian.Uint32(mem[4:]) != regionVersion {
		unix.Munmap(mem)
		unix.Close(dup)
		return nil, errors.New("region header does not match this protocol version")
	}
	ringSize := int(binary.NativeEndian.Uint32(mem[8:]))
	if headerSize+2*ringSize != len(mem) {
		unix.Munmap(mem)
		unix.Close(dup)
		return nil, fmt.Errorf("region size %d does not match ring size %d", len(mem), ringSize)
	}
	return &Region{fd: dup, mem: mem, ringSize: ringSize}, nil
}

// File returns a duplicate of the region's descriptor as an *os.File,
// suitable for exec.Cmd.ExtraFiles. The caller closes it.
func (r *Region) File() (*os.File, error) {
	dup, err := unix.Dup(r.fd)
	if err != nil {
		return nil, fmt.Errorf("dup: %w", err)
	}
	return os.NewFile(uintptr(dup), "js-bridge-region"), nil
}

// Fd returns the region's file descriptor.
func (r *Region) Fd() int { return r.fd }

// RingSize returns the capacity of each ring in bytes.
func (r *Region) RingSize() int { return r.ringSize }

func (r *Region) ring(i int) *ring {
	hdr := ringHeaderBase + i*ringHeaderSize
	data := headerSize + i*r.ringSize
	return newRing(r.mem[hdr:hdr+ringHeaderSize], r.mem[data:data+r.ringSize])
}

// Close unmaps the region and closes its descriptor. Channels using the
// region must be closed first.
func (r *Region) Close() error {
	var err error
	r.once.Do(func() {
		err = errors.Join(unix.Munmap(r.mem), unix.Close(r.fd))
	})
	return err
}
