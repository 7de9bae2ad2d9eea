package fiu

import (
	"errors"
	"strconv"
)

// Parameter errors are returned before any register is written.
var (
	ErrBadSize         = errors.New("fiu: transfer size exceeds limit")
	ErrBadBitsPerClock = errors.New("fiu: bits per clock must be 1, 2 or 4")
	ErrBadAddrSize     = errors.New("fiu: address size must be 0, 3 or 4 bytes")
	ErrBadDummy        = errors.New("fiu: dummy byte count exceeds 7")
	ErrRangeIndex      = errors.New("fiu: protection range index out of range")
	ErrBadRange        = errors.New("fiu: protection range bounds invalid")
	ErrBadCSMask       = errors.New("fiu: chip select mask must be within 0..3")
	ErrCommandSlot     = errors.New("fiu: protection command slot out of range")
	ErrBadProtectCode  = errors.New("fiu: protection code is 3 bits")
	ErrNoIRQController = errors.New("fiu: violation handler given without interrupt controller")
	ErrOutOfFlash      = errors.New("fiu: access beyond configured flash size")
)

// ErrTimeout is returned when a transaction was armed but did not complete
// within the caller's budget. Hardware state is left as is.
var ErrTimeout = errors.New("fiu: timeout waiting for transaction done")

// ReadMode is the access mode of the direct read engine. UMA transactions take
// their phase widths from it.
type ReadMode uint8

const (
	ReadNormal     ReadMode = iota // 1-1-1, no dummy. Command 0x03.
	ReadFast                       // 1-1-1, 1 dummy byte. Command 0x0B.
	ReadDualOutput                 // Dual data with dummy clocked at dual width. Command 0x3B.
	ReadDualIO                     // Dual address and data. Command 0xBB.
	ReadQuadIO                     // Quad address and data. Command 0xEB.
	ReadSPIX                       // SPI-X: no command phase.
	numReadModes
)

// Direct read access types, DRD_CFG.ACCTYPE.
const (
	accSingle = 0
	accDual   = 1
	accQuad   = 2
	accSPIX   = 3
)

func (m ReadMode) String() string {
	switch m {
	case ReadNormal:
		return "normal"
	case ReadFast:
		return "fast"
	case ReadDualOutput:
		return "dual-output"
	case ReadDualIO:
		return "dual-io"
	case ReadQuadIO:
		return "quad-io"
	case ReadSPIX:
		return "spi-x"
	}
	return "readmode(" + strconv.Itoa(int(m)) + ")"
}

// fields returns the ACCTYPE and DBW field values and the read command of m.
func (m ReadMode) fields() (acctype, dbw uint32, cmd byte) {
	switch m {
	case ReadNormal:
		return accSingle, 0, 0x03
	case ReadFast:
		return accSingle, 1, 0x0B
	case ReadDualOutput:
		return accDual, 2, 0x3B
	case ReadDualIO:
		return accDual, 1, 0xBB
	case ReadQuadIO:
		return accQuad, 3, 0xEB
	case ReadSPIX:
		return accSPIX, 0, 0x0B
	}
	panic("fiu: bad read mode " + m.String())
}

// readModeFromFields is the inverse of ReadMode.fields over ACCTYPE and DBW.
func readModeFromFields(acctype, dbw uint32) ReadMode {
	switch acctype {
	case accSingle:
		if dbw == 0 {
			return ReadNormal
		}
		return ReadFast
	case accDual:
		if dbw == 2 {
			return ReadDualOutput
		}
		return ReadDualIO
	case accQuad:
		return ReadQuadIO
	}
	return ReadSPIX
}

// BitsPerClock returns the UMA phase width matching m.
func (m ReadMode) BitsPerClock() BitsPerClock {
	switch m {
	case ReadDualOutput, ReadDualIO:
		return Dual
	case ReadQuadIO, ReadSPIX:
		return Quad
	}
	return Single
}

// BitsPerClock is the number of data lines used by a transaction phase.
type BitsPerClock uint8

const (
	Single BitsPerClock = 1
	Dual   BitsPerClock = 2
	Quad   BitsPerClock = 4
)

// raw returns the two bit hardware encoding of b.
func (b BitsPerClock) raw() (uint32, bool) {
	switch b {
	case Single:
		return 0, true
	case Dual:
		return 1, true
	case Quad:
		return 2, true
	}
	return 0, false
}

func bitsPerClockFromRaw(r uint32) BitsPerClock {
	switch r {
	case 1:
		return Dual
	case 2:
		return Quad
	}
	return Single
}

// AddrMode selects the address phase of a UMA transaction.
type AddrMode uint8

const (
	AddrNone AddrMode = iota
	// AddrAuto sends 3 or 4 address bytes depending on the chip select's
	// 4 byte addressing flag, see SetFourByteAddressing.
	AddrAuto
	Addr3
	Addr4
)

// Burst is the burst size of the direct access engine. Values are the raw
// R_BURST/W_BURST encodings.
type Burst uint8

const (
	Burst1  Burst = 0
	Burst4  Burst = 2
	Burst16 Burst = 3
)

func (b Burst) valid() bool { return b == Burst1 || b == Burst4 || b == Burst16 }

// ProtectCode is the 3 bit disposition of a protection command entry.
// Bits 1:0 select the disposition and bit 2 selects the range bank the
// range-dependent dispositions are checked against (ranges 0..7 or 8..15).
type ProtectCode uint8

const (
	// ProtForbidInside forbids the command when its address hits a range of the bank.
	ProtForbidInside ProtectCode = 0b00
	// ProtForbidOutside forbids the command unless its address hits a range of the bank.
	ProtForbidOutside ProtectCode = 0b01
	ProtForbidden     ProtectCode = 0b10
	ProtAllowed       ProtectCode = 0b11
	// ProtBankHigh selects ranges 8..15 for range-dependent dispositions.
	ProtBankHigh ProtectCode = 0b100
)

// Disposition returns c without the bank selector.
func (c ProtectCode) Disposition() ProtectCode { return c & 0b11 }

// Bank returns the range bank selected by c, 0 or 1.
func (c ProtectCode) Bank() int { return int(c>>2) & 1 }

func (c ProtectCode) String() (s string) {
	switch c.Disposition() {
	case ProtForbidInside:
		s = "forbid-inside"
	case ProtForbidOutside:
		s = "forbid-outside"
	case ProtForbidden:
		return "forbidden"
	case ProtAllowed:
		return "allowed"
	}
	return s + "/bank" + strconv.Itoa(c.Bank())
}

// ProtectRange is a protection range as programmed in hardware.
type ProtectRange struct {
	Start  uint32 // First byte, 16KiB aligned.
	End    uint32 // Last byte, inclusive.
	CSMask uint8  // Bit n applies the range to chip select n.
	Locked bool
}

// ProtectCommand is one entry of the command whitelist.
type ProtectCommand struct {
	Code      ProtectCode
	Cmd       byte
	AddrBytes int
	AddrBits  BitsPerClock
	CmdBits   BitsPerClock
}

// ProtectConfig holds the global protection settings of an FIU instance.
type ProtectConfig struct {
	// Lock sets the one-way protection lock. Until reset, the hardware ignores
	// writes to the protection configuration, ranges and commands.
	Lock bool
	// Enable turns on enforcement of ranges and commands.
	Enable bool
	// DeviceSize in bytes, encoded in hardware as a power of 4 MiB count.
	DeviceSize uint32
	// ForceCS enables forcing chip select 0 or 1 to ForceValue.
	ForceCS    [2]bool
	ForceValue [2]bool // true drives the chip select inactive.
	IO2Force   bool
	// OtherCommandsAllowed is the disposition of commands absent from the whitelist.
	OtherCommandsAllowed bool
	// Handler, when non-nil, is registered with the interrupt controller and
	// called on a protection violation from interrupt context. It must not
	// block nor issue UMA transactions; it may call ViolationStatus.
	Handler func(d *Device)
}
