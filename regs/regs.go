// Package regs describes the register block of one Flash Interface Unit (FIU)
// instance: offsets, bit fields and the read/modify/write accessor the driver
// programs the hardware through.
package regs

import (
	"strconv"

	"github.com/soypat/fiu/mmio"
	"github.com/usbarmory/tamago/bits"
)

// Size is the extent of one FIU register block.
const Size = 0x100

// Register offsets.
const (
	DRD_CFG  = 0x00 // Direct read configuration.
	DWR_CFG  = 0x04 // Direct write configuration.
	UMA_CFG  = 0x08 // UMA transaction sizes and widths.
	UMA_CTS  = 0x0C // UMA control and status.
	UMA_CMD  = 0x10 // UMA command byte.
	UMA_ADDR = 0x14 // UMA address.
	PRT_CFG  = 0x18 // Protection configuration.
	PRT_STS  = 0x1C // Protection status.
	UMA_DW0  = 0x20 // UMA write data, 4 consecutive words.
	UMA_DR0  = 0x30 // UMA read data, 4 consecutive words.
	PRT_CMD0 = 0x40 // Protection command whitelist, 14 consecutive words.
	FIU_CFG  = 0x78
	FIU_VER  = 0x7C // Read only.
	PRT_RNG0 = 0x80 // Protection ranges, 16 consecutive words.
)

// Table sizes.
const (
	UMADataWords  = 4
	UMAMaxData    = UMADataWords * 4
	ProtRanges    = 16
	ProtCmdRegs   = 14
	ProtCmdSlots  = 2 * ProtCmdRegs
	RangeShift    = 14 // Protection ranges have 16KiB granularity.
	RangeGranule  = 1 << RangeShift
	RangeMaxBlock = 1<<13 - 1
)

// Field is a bit field of a 32-bit register.
type Field struct {
	Reg   uint32 // Register offset.
	Pos   uint8  // Least significant bit.
	Width uint8
}

func (f Field) mask() int { return 1<<f.Width - 1 }

// Mask returns the in-register mask of f.
func (f Field) Mask() uint32 { return uint32(f.mask()) << f.Pos }

// Max returns the largest value f can hold.
func (f Field) Max() uint32 { return uint32(f.mask()) }

// Get extracts f from a register word.
func (f Field) Get(word uint32) uint32 {
	return bits.Get(&word, int(f.Pos), f.mask())
}

// Set stores v into f of a register word. Bits of v above the field width are dropped.
func (f Field) Set(word *uint32, v uint32) {
	bits.SetN(word, int(f.Pos), f.mask(), v&f.Max())
}

// At relocates a sub-field descriptor to register reg, shifted left by shift bits.
func (f Field) At(reg uint32, shift uint8) Field {
	return Field{Reg: reg, Pos: f.Pos + shift, Width: f.Width}
}

// DRD_CFG fields.
var (
	DRD_RDCMD   = Field{DRD_CFG, 0, 8}
	DRD_ACCTYPE = Field{DRD_CFG, 8, 2}
	DRD_DBW     = Field{DRD_CFG, 12, 2}
	DRD_ADDSIZ  = Field{DRD_CFG, 16, 2}
	DRD_RBURST  = Field{DRD_CFG, 24, 2}
)

// DWR_CFG fields.
var (
	DWR_WRCMD  = Field{DWR_CFG, 0, 8}
	DWR_DBPCK  = Field{DWR_CFG, 8, 2}
	DWR_ABPCK  = Field{DWR_CFG, 10, 2}
	DWR_ADDSIZ = Field{DWR_CFG, 16, 2}
	DWR_WBURST = Field{DWR_CFG, 24, 2}
	DWR_LCK    = Field{DWR_CFG, 31, 1}
)

// UMA_CFG fields.
var (
	UMA_CMBPCK  = Field{UMA_CFG, 0, 2}
	UMA_ADBPCK  = Field{UMA_CFG, 2, 2}
	UMA_WDBPCK  = Field{UMA_CFG, 4, 2}
	UMA_DBPCK   = Field{UMA_CFG, 6, 2}
	UMA_RDBPCK  = Field{UMA_CFG, 8, 2}
	UMA_CMDSIZ  = Field{UMA_CFG, 10, 1}
	UMA_ADDSIZ  = Field{UMA_CFG, 11, 3}
	UMA_WDATSIZ = Field{UMA_CFG, 16, 5}
	UMA_DBSIZ   = Field{UMA_CFG, 21, 3}
	UMA_RDATSIZ = Field{UMA_CFG, 24, 5}
)

// UMA_CTS fields.
var (
	CTS_EXEC_DONE = Field{UMA_CTS, 0, 1}
	CTS_DEV_NUM   = Field{UMA_CTS, 8, 2}
	CTS_SW_CS     = Field{UMA_CTS, 16, 1} // 0 asserts chip select.
	CTS_RDYST     = Field{UMA_CTS, 24, 1} // Write 1 to clear.
	CTS_RDYIE     = Field{UMA_CTS, 25, 1}
)

// UMA_CMD fields. Bits 31:8 hold the dummy bytes; the driver leaves them zero.
var CMD_CMDB = Field{UMA_CMD, 0, 8}

// PRT_CFG fields.
var (
	PRT_OCALWD   = Field{PRT_CFG, 4, 1}
	PRT_IO2FRC   = Field{PRT_CFG, 5, 1}
	PRT_DEVSIZ   = Field{PRT_CFG, 8, 3}
	PRT_FCS0_EN  = Field{PRT_CFG, 16, 1}
	PRT_FCS0_VAL = Field{PRT_CFG, 17, 1}
	PRT_FCS0_LCK = Field{PRT_CFG, 18, 1}
	PRT_PEN      = Field{PRT_CFG, 30, 1}
	PRT_LCK      = Field{PRT_CFG, 31, 1}
)

// PRT_STS fields.
var (
	STS_PRTERR = Field{PRT_STS, 0, 1} // Sticky, write 1 to clear.
	STS_PRTIE  = Field{PRT_STS, 1, 1}
)

// Chip select force fields of PRT_CFG for cs 0 or 1.
func PRT_FCS_EN(cs int) Field  { return PRT_FCS0_EN.At(PRT_CFG, uint8(4*cs)) }
func PRT_FCS_VAL(cs int) Field { return PRT_FCS0_VAL.At(PRT_CFG, uint8(4*cs)) }
func PRT_FCS_LCK(cs int) Field { return PRT_FCS0_LCK.At(PRT_CFG, uint8(4*cs)) }

// Protection command sub-field layout relative to the start of an entry.
// Entry A occupies bits 15:0 of a PRT_CMD register and entry B bits 31:16.
var (
	PCMD_CMD    = Field{0, 0, 8}
	PCMD_FRBD   = Field{0, 8, 2}
	PCMD_RSEL   = Field{0, 10, 1}
	PCMD_AD4B   = Field{0, 11, 1}
	PCMD_ADBPCK = Field{0, 12, 2}
	PCMD_CMBPCK = Field{0, 14, 2}
)

// Protection range layout relative to a PRT_RNG register.
var (
	RNG_STRT  = Field{0, 0, 13}
	RNG_LAST  = Field{0, 16, 13}
	RNG_CSUSE = Field{0, 29, 2}
	RNG_LCK   = Field{0, 31, 1}
)

// PRT_CMD returns the register offset and entry shift of command slot.
// The register index is slot>>1 and slot&1 selects entry B.
func PRT_CMD(slot int) (reg uint32, shift uint8) {
	return PRT_CMD0 + 4*uint32(slot>>1), 16 * uint8(slot&1)
}

// PRT_RNG returns the register offset of protection range n.
func PRT_RNG(n int) uint32 { return PRT_RNG0 + 4*uint32(n) }

// UMA_DW returns the register offset of write data word n.
func UMA_DW(n int) uint32 { return UMA_DW0 + 4*uint32(n) }

// UMA_DR returns the register offset of read data word n.
func UMA_DR(n int) uint32 { return UMA_DR0 + 4*uint32(n) }

// W1C returns the write-1-to-clear bits of the register at off.
func W1C(off uint32) uint32 {
	switch off {
	case UMA_CTS:
		return CTS_RDYST.Mask()
	case PRT_STS:
		return STS_PRTERR.Mask()
	}
	return 0
}

// Block is the register block of one FIU instance.
type Block struct {
	Bus  mmio.Bus
	Base uintptr
}

// Addr returns the absolute address of the register at off.
func (b Block) Addr(off uint32) uintptr { return b.Base + uintptr(off) }

func (b Block) Read(off uint32) uint32 { return b.Bus.Read32(b.Addr(off)) }

func (b Block) Write(off, v uint32) { b.Bus.Write32(b.Addr(off), v) }

// ReadField reads the register holding f and extracts f.
func (b Block) ReadField(f Field) uint32 { return f.Get(b.Read(f.Reg)) }

// WriteField performs a read/modify/write of f. Write-1-to-clear bits read back
// as set are written as 0 so that updating a neighbouring field does not
// acknowledge status by accident.
func (b Block) WriteField(f Field, v uint32) {
	word := b.Read(f.Reg)
	word &^= W1C(f.Reg) &^ f.Mask()
	f.Set(&word, v)
	b.Write(f.Reg, word)
}

// Name returns the mnemonic of the register at off.
func Name(off uint32) string {
	switch {
	case off >= UMA_DW0 && off < UMA_DR0:
		return "UMA_DW" + strconv.Itoa(int(off-UMA_DW0)/4)
	case off >= UMA_DR0 && off < PRT_CMD0:
		return "UMA_DR" + strconv.Itoa(int(off-UMA_DR0)/4)
	case off >= PRT_CMD0 && off < FIU_CFG:
		return "PRT_CMD" + strconv.Itoa(int(off-PRT_CMD0)/4)
	case off >= PRT_RNG0 && off < PRT_RNG0+4*ProtRanges:
		return "PRT_RNG" + strconv.Itoa(int(off-PRT_RNG0)/4)
	}
	switch off {
	case DRD_CFG:
		return "DRD_CFG"
	case DWR_CFG:
		return "DWR_CFG"
	case UMA_CFG:
		return "UMA_CFG"
	case UMA_CTS:
		return "UMA_CTS"
	case UMA_CMD:
		return "UMA_CMD"
	case UMA_ADDR:
		return "UMA_ADDR"
	case PRT_CFG:
		return "PRT_CFG"
	case PRT_STS:
		return "PRT_STS"
	case FIU_CFG:
		return "FIU_CFG"
	case FIU_VER:
		return "FIU_VER"
	}
	return "0x" + strconv.FormatUint(uint64(off), 16)
}
