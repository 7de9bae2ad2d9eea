//go:build linux && !tinygo

package mmio

import (
	"errors"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem maps a physical register window through /dev/mem.
// Addresses passed to Read32 and Write32 are physical addresses inside the window.
type DevMem struct {
	fp   *os.File
	mem  []byte
	base uintptr
}

// OpenDevMem maps size bytes of physical memory starting at base.
// base must be page aligned.
func OpenDevMem(base uintptr, size int) (*DevMem, error) {
	if base%uintptr(os.Getpagesize()) != 0 {
		return nil, errors.New("mmio: base not page aligned")
	}
	fp, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	mem, err := unix.Mmap(int(fp.Fd()), int64(base), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		fp.Close()
		return nil, err
	}
	return &DevMem{fp: fp, mem: mem, base: base}, nil
}

func (d *DevMem) word(addr uintptr) *uint32 {
	off := addr - d.base
	if addr < d.base || off+4 > uintptr(len(d.mem)) || off%4 != 0 {
		panic("mmio: access outside mapped window")
	}
	return (*uint32)(unsafe.Pointer(&d.mem[off]))
}

func (d *DevMem) Read32(addr uintptr) uint32 { return atomic.LoadUint32(d.word(addr)) }

func (d *DevMem) Write32(addr uintptr, v uint32) { atomic.StoreUint32(d.word(addr), v) }

// Close unmaps the window and closes /dev/mem.
func (d *DevMem) Close() error {
	err := unix.Munmap(d.mem)
	return errors.Join(err, d.fp.Close())
}
