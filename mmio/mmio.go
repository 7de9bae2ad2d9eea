// Package mmio provides the 32-bit register access substrate used by the FIU driver.
// A Bus is implemented once per environment: bare metal (tinygo), Linux userspace
// through /dev/mem, and an in-memory register file used by tests.
package mmio

// Bus performs single 32-bit register accesses. Implementations must make each
// access atomic; no atomicity is provided across several accesses.
type Bus interface {
	Read32(addr uintptr) uint32
	Write32(addr uintptr, v uint32)
}

// Access is one recorded register access.
type Access struct {
	Write bool
	Addr  uintptr
	Value uint32
}

// Mem is an in-memory register file that records every access.
// The zero value is ready to use.
type Mem struct {
	regs map[uintptr]uint32
	// Log holds all accesses in issue order while Record is set.
	Log    []Access
	Record bool
	// AutoClear holds, per address, bits that read back as 0 after any write
	// such as self-clearing start bits.
	AutoClear map[uintptr]uint32
}

func (m *Mem) Read32(addr uintptr) uint32 {
	v := m.regs[addr]
	if m.Record {
		m.Log = append(m.Log, Access{Addr: addr, Value: v})
	}
	return v
}

func (m *Mem) Write32(addr uintptr, v uint32) {
	if m.regs == nil {
		m.regs = make(map[uintptr]uint32)
	}
	m.regs[addr] = v &^ m.AutoClear[addr]
	if m.Record {
		m.Log = append(m.Log, Access{Write: true, Addr: addr, Value: v})
	}
}

// Peek returns a register value without recording the access.
func (m *Mem) Peek(addr uintptr) uint32 { return m.regs[addr] }

// Poke sets a register value without recording the access.
func (m *Mem) Poke(addr uintptr, v uint32) {
	if m.regs == nil {
		m.regs = make(map[uintptr]uint32)
	}
	m.regs[addr] = v
}

// Writes returns the number of recorded writes.
func (m *Mem) Writes() (n int) {
	for _, a := range m.Log {
		if a.Write {
			n++
		}
	}
	return n
}

// Reset clears the access log.
func (m *Mem) Reset() { m.Log = m.Log[:0] }

// Region maps Size bytes starting at Base to Bus.
type Region struct {
	Base uintptr
	Size uintptr
	Bus  Bus
}

// Regions routes each access to the first region holding its address.
type Regions []Region

func (r Regions) Read32(addr uintptr) uint32 { return r.find(addr).Read32(addr) }

func (r Regions) Write32(addr uintptr, v uint32) { r.find(addr).Write32(addr, v) }

func (r Regions) find(addr uintptr) Bus {
	for i := range r {
		if addr >= r[i].Base && addr-r[i].Base < r[i].Size {
			return r[i].Bus
		}
	}
	panic("mmio: no region for address")
}
