// Package sim models FIU hardware and SPI-NOR flash parts so the driver can be
// exercised without a board. A FIU implements mmio.Bus over its register block
// and its direct-mapped window.
package sim

import (
	"encoding/binary"
	"strconv"

	"github.com/soypat/fiu/regs"
)

// DefaultVersion is the FIU_VER value reported by NewFIU.
const DefaultVersion = 0x0000_0301

// Exec records one executed UMA transaction.
type Exec struct {
	Device  int
	Cfg     uint32
	Cmd     byte
	Addr    uint32
	Blocked bool
}

// CmdSize reports whether the transaction carried a command byte.
func (e Exec) CmdSize() int { return int(regs.UMA_CMDSIZ.Get(e.Cfg)) }

// AddrSize returns the number of address bytes the transaction carried.
func (e Exec) AddrSize() int { return int(regs.UMA_ADDSIZ.Get(e.Cfg)) }

// FIU is a behavioural model of one FIU instance. It is not safe for
// concurrent use; violation handlers run synchronously from Write32.
type FIU struct {
	Base    uintptr
	Window  uintptr
	Stride  uint32
	Devices [4]*Flash
	// Intc and Line receive the protection violation interrupt.
	Intc *Intc
	Line int
	// Stall leaves EXEC_DONE set without running armed transactions.
	Stall bool
	// Log holds executed transactions in order.
	Log []Exec

	regs  [regs.Size / 4]uint32
	frame frame
}

// frame is the chip select window of the transaction in progress.
type frame struct {
	open    bool
	dev     int
	blocked bool
}

// NewFIU returns an FIU with reset register values and direct map window
// stride apart per chip select.
func NewFIU(base, window uintptr, stride uint32) *FIU {
	f := &FIU{Base: base, Window: window, Stride: stride}
	f.regs[regs.FIU_VER/4] = DefaultVersion
	f.regs[regs.UMA_CTS/4] = regs.CTS_SW_CS.Mask()
	return f
}

// Reg returns the raw value of the register at off.
func (f *FIU) Reg(off uint32) uint32 { return f.regs[off/4] }

// SetReg sets a register bypassing write side effects and locks.
func (f *FIU) SetReg(off, v uint32) { f.regs[off/4] = v }

func (f *FIU) Read32(addr uintptr) uint32 {
	if off, ok := f.regOffset(addr); ok {
		return f.regs[off/4]
	}
	dev, off := f.windowOffset(addr)
	fl := f.Devices[dev]
	var w [4]byte
	for i := range w {
		w[i] = 0xff
		if fl != nil && int(off)+i < len(fl.Data) {
			w[i] = fl.Data[int(off)+i]
		}
	}
	return binary.LittleEndian.Uint32(w[:])
}

func (f *FIU) Write32(addr uintptr, v uint32) {
	off, ok := f.regOffset(addr)
	if !ok {
		// Direct writes are not modelled.
		f.windowOffset(addr)
		return
	}
	old := f.regs[off/4]
	prtLocked := regs.PRT_LCK.Get(f.regs[regs.PRT_CFG/4]) != 0
	switch {
	case off == regs.FIU_VER:
		return
	case off == regs.UMA_CTS:
		f.regs[off/4] = w1c(old, v, regs.CTS_RDYST.Mask())
		f.ctsWritten(old)
		return
	case off == regs.PRT_STS:
		f.regs[off/4] = w1c(old, v, regs.STS_PRTERR.Mask())
		return
	case off == regs.PRT_CFG:
		if prtLocked {
			return
		}
		for cs := 0; cs < 2; cs++ {
			if regs.PRT_FCS_LCK(cs).Get(old) != 0 {
				keep := regs.PRT_FCS_EN(cs).Mask() | regs.PRT_FCS_VAL(cs).Mask() | regs.PRT_FCS_LCK(cs).Mask()
				v = v&^keep | old&keep
			}
		}
	case off >= regs.PRT_CMD0 && off < regs.FIU_CFG:
		if prtLocked {
			return
		}
	case off >= regs.PRT_RNG0 && off < regs.PRT_RNG0+4*regs.ProtRanges:
		if prtLocked || regs.RNG_LCK.Get(old) != 0 {
			return
		}
	}
	f.regs[off/4] = v
}

func w1c(old, v, mask uint32) uint32 {
	keep := old & mask &^ v
	return v&^mask | keep
}

func (f *FIU) regOffset(addr uintptr) (uint32, bool) {
	if addr < f.Base || addr >= f.Base+regs.Size {
		return 0, false
	}
	if addr%4 != 0 {
		panic("sim: unaligned register access " + strconv.FormatUint(uint64(addr), 16))
	}
	return uint32(addr - f.Base), true
}

func (f *FIU) windowOffset(addr uintptr) (dev int, off uint32) {
	if f.Stride == 0 || addr < f.Window || addr >= f.Window+uintptr(len(f.Devices))*uintptr(f.Stride) {
		panic("sim: access outside FIU at 0x" + strconv.FormatUint(uint64(addr), 16))
	}
	rel := addr - f.Window
	return int(rel / uintptr(f.Stride)), uint32(rel % uintptr(f.Stride))
}

// ctsWritten applies chip select and execution side effects of a UMA_CTS write.
func (f *FIU) ctsWritten(old uint32) {
	cts := f.regs[regs.UMA_CTS/4]
	if regs.CTS_SW_CS.Get(old) == 0 && regs.CTS_SW_CS.Get(cts) != 0 {
		f.endFrame()
	}
	if regs.CTS_EXEC_DONE.Get(cts) == 0 || f.Stall {
		return
	}
	f.execute()
	cts = f.regs[regs.UMA_CTS/4]
	regs.CTS_EXEC_DONE.Set(&cts, 0)
	regs.CTS_RDYST.Set(&cts, 1)
	f.regs[regs.UMA_CTS/4] = cts
}

// Complete finishes a stalled transaction.
func (f *FIU) Complete() {
	f.Stall = false
	f.ctsWritten(f.regs[regs.UMA_CTS/4])
}

func (f *FIU) endFrame() {
	if !f.frame.open {
		return
	}
	if fl := f.Devices[f.frame.dev]; fl != nil && !f.frame.blocked {
		fl.End()
	}
	f.frame = frame{}
}

func (f *FIU) execute() {
	cts := f.regs[regs.UMA_CTS/4]
	cfg := f.regs[regs.UMA_CFG/4]
	dev := int(regs.CTS_DEV_NUM.Get(cts))
	cmd := byte(regs.CMD_CMDB.Get(f.regs[regs.UMA_CMD/4]))
	addr := f.regs[regs.UMA_ADDR/4]
	hasCmd := regs.UMA_CMDSIZ.Get(cfg) != 0
	addsiz := int(regs.UMA_ADDSIZ.Get(cfg))
	wsz := int(min(regs.UMA_WDATSIZ.Get(cfg), regs.UMAMaxData))
	rsz := int(min(regs.UMA_RDATSIZ.Get(cfg), regs.UMAMaxData))

	if hasCmd || !f.frame.open || f.frame.dev != dev {
		f.endFrame()
		f.frame = frame{open: true, dev: dev}
		f.frame.blocked = f.forcedInactive(dev)
		if !f.frame.blocked && !f.allowed(dev, cfg, cmd, addr) {
			f.frame.blocked = true
			f.violation()
		}
		if fl := f.Devices[dev]; fl != nil && !f.frame.blocked {
			if addsiz == 3 {
				addr &= 1<<24 - 1
			}
			fl.Start(cmd, hasCmd, addr)
		}
	}
	fl := f.Devices[dev]
	live := fl != nil && !f.frame.blocked

	var data [regs.UMAMaxData]byte
	if wsz > 0 {
		for i := 0; i < regs.UMADataWords; i++ {
			binary.LittleEndian.PutUint32(data[4*i:], f.regs[regs.UMA_DW(i)/4])
		}
		if live {
			fl.Write(data[:wsz])
		}
	}
	if rsz > 0 {
		data = [regs.UMAMaxData]byte{}
		for i := range data[:rsz] {
			data[i] = 0xff
		}
		if live {
			fl.Read(data[:rsz])
		}
		for i := 0; i < regs.UMADataWords; i++ {
			f.regs[regs.UMA_DR(i)/4] = binary.LittleEndian.Uint32(data[4*i:])
		}
	}
	f.Log = append(f.Log, Exec{Device: dev, Cfg: cfg, Cmd: cmd, Addr: addr, Blocked: f.frame.blocked})
	if regs.CTS_SW_CS.Get(cts) != 0 {
		f.endFrame()
	}
}

func (f *FIU) forcedInactive(dev int) bool {
	if dev >= 2 {
		return false
	}
	prt := f.regs[regs.PRT_CFG/4]
	return regs.PRT_FCS_EN(dev).Get(prt) != 0 && regs.PRT_FCS_VAL(dev).Get(prt) != 0
}

func (f *FIU) violation() {
	sts := f.regs[regs.PRT_STS/4]
	regs.STS_PRTERR.Set(&sts, 1)
	f.regs[regs.PRT_STS/4] = sts
	if regs.STS_PRTIE.Get(sts) != 0 && f.Intc != nil {
		f.Intc.Raise(f.Line)
	}
}

// allowed applies the protection whitelist and ranges to a transaction that
// opens a chip select frame.
func (f *FIU) allowed(dev int, cfg uint32, cmd byte, addr uint32) bool {
	prt := f.regs[regs.PRT_CFG/4]
	if regs.PRT_PEN.Get(prt) == 0 || regs.UMA_CMDSIZ.Get(cfg) == 0 {
		return true
	}
	entry, ok := f.lookup(cmd)
	if !ok {
		return regs.PRT_OCALWD.Get(prt) != 0
	}
	get := func(fl regs.Field) uint32 { return fl.Get(entry) }
	addsiz := regs.UMA_ADDSIZ.Get(cfg)
	if get(regs.PCMD_CMBPCK) != regs.UMA_CMBPCK.Get(cfg) {
		return false
	}
	if addsiz != 0 {
		want := uint32(3)
		if get(regs.PCMD_AD4B) != 0 {
			want = 4
		}
		if addsiz != want || get(regs.PCMD_ADBPCK) != regs.UMA_ADBPCK.Get(cfg) {
			return false
		}
	}
	bank := int(get(regs.PCMD_RSEL))
	switch get(regs.PCMD_FRBD) {
	case 0b00: // Forbidden inside ranges.
		return !f.inRange(bank, dev, addr)
	case 0b01: // Forbidden outside ranges.
		return f.inRange(bank, dev, addr)
	case 0b10:
		return false
	}
	return true
}

// lookup returns the first programmed whitelist entry for cmd as a 16 bit value.
func (f *FIU) lookup(cmd byte) (uint32, bool) {
	for slot := 0; slot < regs.ProtCmdSlots; slot++ {
		reg, shift := regs.PRT_CMD(slot)
		entry := f.regs[reg/4] >> shift & 0xffff
		if entry == 0 {
			continue
		}
		if byte(regs.PCMD_CMD.Get(entry)) == cmd {
			return entry, true
		}
	}
	return 0, false
}

// inRange reports whether addr on dev hits a range of bank.
func (f *FIU) inRange(bank, dev int, addr uint32) bool {
	blk := addr >> regs.RangeShift
	for i := 8 * bank; i < 8*bank+8; i++ {
		rng := f.regs[regs.PRT_RNG(i)/4]
		csuse := regs.RNG_CSUSE.Get(rng)
		if csuse == 0 || (dev < 2 && csuse&(1<<dev) == 0) {
			continue
		}
		if blk >= regs.RNG_STRT.Get(rng) && blk <= regs.RNG_LAST.Get(rng) {
			return true
		}
	}
	return false
}
