//go:build tinygo

package mmio

import (
	"runtime/volatile"
	"unsafe"
)

// Volatile accesses registers directly on bare metal.
type Volatile struct{}

//go:inline
func (Volatile) Read32(addr uintptr) uint32 {
	return volatile.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

//go:inline
func (Volatile) Write32(addr uintptr, v uint32) {
	volatile.StoreUint32((*uint32)(unsafe.Pointer(addr)), v)
}
