package fiu

import (
	"log/slog"

	"github.com/soypat/fiu/regs"
)

// SetProtectionRange programs protection range index to cover start through
// end inclusive in 16KiB blocks. Bit n of csMask applies the range to chip
// select n. A locked range or instance silently keeps its old value.
func (d *Device) SetProtectionRange(index int, start, end uint32, csMask uint8) error {
	if index < 0 || index >= regs.ProtRanges {
		return ErrRangeIndex
	}
	if uint32(csMask) > regs.RNG_CSUSE.Max() {
		return ErrBadCSMask
	}
	if end < regs.RangeGranule-1 {
		return ErrBadRange
	}
	strt := start >> regs.RangeShift
	last := (end - (regs.RangeGranule - 1)) >> regs.RangeShift
	if last < strt || last > regs.RangeMaxBlock {
		return ErrBadRange
	}
	var word uint32
	regs.RNG_STRT.Set(&word, strt)
	regs.RNG_LAST.Set(&word, last)
	regs.RNG_CSUSE.Set(&word, uint32(csMask))
	d.lock()
	defer d.unlock()
	d.write(regs.PRT_RNG(index), word)
	d.debug("SetProtectionRange", slog.Int("index", index), slog.Uint64("strt", uint64(strt)), slog.Uint64("last", uint64(last)), slog.Int("cs", int(csMask)))
	return nil
}

// LockProtectionRange sets the lock bit of range index. The range is then
// read only until reset.
func (d *Device) LockProtectionRange(index int) error {
	if index < 0 || index >= regs.ProtRanges {
		return ErrRangeIndex
	}
	d.lock()
	defer d.unlock()
	d.writeField(regs.RNG_LCK.At(regs.PRT_RNG(index), 0), 1)
	return nil
}

// ProtectionRange reads back range index.
func (d *Device) ProtectionRange(index int) (ProtectRange, error) {
	if index < 0 || index >= regs.ProtRanges {
		return ProtectRange{}, ErrRangeIndex
	}
	d.lock()
	word := d.regs.Read(regs.PRT_RNG(index))
	d.unlock()
	return ProtectRange{
		Start:  regs.RNG_STRT.Get(word) << regs.RangeShift,
		End:    regs.RNG_LAST.Get(word)<<regs.RangeShift + regs.RangeGranule - 1,
		CSMask: uint8(regs.RNG_CSUSE.Get(word)),
		Locked: regs.RNG_LCK.Get(word) != 0,
	}, nil
}

// SetProtectionCommand programs whitelist entry slot. Two slots share a
// register: slot>>1 selects the register and slot&1 the upper half.
func (d *Device) SetProtectionCommand(slot int, code ProtectCode, cmd byte, addrBytes int, addrBits, cmdBits BitsPerClock) error {
	if slot < 0 || slot>>1 >= regs.ProtCmdRegs {
		return ErrCommandSlot
	}
	if code > 0b111 {
		return ErrBadProtectCode
	}
	if addrBytes != 3 && addrBytes != 4 {
		return ErrBadAddrSize
	}
	ab, ok1 := addrBits.raw()
	cb, ok2 := cmdBits.raw()
	if !ok1 || !ok2 {
		return ErrBadBitsPerClock
	}
	reg, shift := regs.PRT_CMD(slot)
	d.lock()
	defer d.unlock()
	word := d.regs.Read(reg)
	regs.PCMD_CMD.At(reg, shift).Set(&word, uint32(cmd))
	regs.PCMD_FRBD.At(reg, shift).Set(&word, uint32(code.Disposition()))
	regs.PCMD_RSEL.At(reg, shift).Set(&word, uint32(code.Bank()))
	regs.PCMD_AD4B.At(reg, shift).Set(&word, b2u32(addrBytes == 4))
	regs.PCMD_ADBPCK.At(reg, shift).Set(&word, ab)
	regs.PCMD_CMBPCK.At(reg, shift).Set(&word, cb)
	d.write(reg, word)
	d.debug("SetProtectionCommand", slog.Int("slot", slot), slog.Uint64("cmd", uint64(cmd)), slog.String("code", code.String()))
	return nil
}

// ProtectionCommand reads back whitelist entry slot.
func (d *Device) ProtectionCommand(slot int) (ProtectCommand, error) {
	if slot < 0 || slot>>1 >= regs.ProtCmdRegs {
		return ProtectCommand{}, ErrCommandSlot
	}
	reg, shift := regs.PRT_CMD(slot)
	d.lock()
	word := d.regs.Read(reg)
	d.unlock()
	get := func(f regs.Field) uint32 { return f.At(reg, shift).Get(word) }
	pc := ProtectCommand{
		Code:      ProtectCode(get(regs.PCMD_FRBD) | get(regs.PCMD_RSEL)<<2),
		Cmd:       byte(get(regs.PCMD_CMD)),
		AddrBytes: 3,
		AddrBits:  bitsPerClockFromRaw(get(regs.PCMD_ADBPCK)),
		CmdBits:   bitsPerClockFromRaw(get(regs.PCMD_CMBPCK)),
	}
	if get(regs.PCMD_AD4B) != 0 {
		pc.AddrBytes = 4
	}
	return pc, nil
}

// ConfigureProtection applies cfg. When cfg.Handler is set it is registered
// with the interrupt controller and the violation interrupt enabled before
// protection is turned on. Enable and lock bits are written last. Once locked
// the hardware ignores further configuration until reset; calling again on a
// locked instance has no effect.
func (d *Device) ConfigureProtection(cfg ProtectConfig) error {
	d.lock()
	defer d.unlock()
	if cfg.Handler != nil {
		if d.irq == nil || d.index >= len(d.chip.IRQLines) {
			return ErrNoIRQController
		}
		handler := cfg.Handler
		err := d.irq.RegisterAndEnable(d.chip.IRQProvider, d.chip.IRQLines[d.index], func() { handler(d) }, irqPolarityHigh, irqPriority)
		if err != nil {
			d.logerr("ConfigureProtection:irq", slog.String("err", err.Error()))
			return err
		}
		d.writeField(regs.STS_PRTIE, 1)
	}
	word := d.regs.Read(regs.PRT_CFG)
	regs.PRT_DEVSIZ.Set(&word, devsizEncode(cfg.DeviceSize))
	regs.PRT_OCALWD.Set(&word, b2u32(cfg.OtherCommandsAllowed))
	regs.PRT_IO2FRC.Set(&word, b2u32(cfg.IO2Force))
	for cs := range cfg.ForceCS {
		regs.PRT_FCS_EN(cs).Set(&word, b2u32(cfg.ForceCS[cs]))
		regs.PRT_FCS_VAL(cs).Set(&word, b2u32(cfg.ForceValue[cs]))
		if cfg.Lock && cfg.ForceCS[cs] {
			regs.PRT_FCS_LCK(cs).Set(&word, 1)
		}
	}
	d.write(regs.PRT_CFG, word)
	regs.PRT_PEN.Set(&word, b2u32(cfg.Enable))
	regs.PRT_LCK.Set(&word, b2u32(cfg.Lock))
	d.write(regs.PRT_CFG, word)
	d.info("ConfigureProtection",
		slog.Bool("enable", cfg.Enable),
		slog.Bool("lock", cfg.Lock),
		slog.Uint64("devsiz", uint64(regs.PRT_DEVSIZ.Get(word))),
		slog.Bool("otherAllowed", cfg.OtherCommandsAllowed),
		slog.Bool("irq", cfg.Handler != nil),
	)
	return nil
}

// devsizEncode returns the power of 4 exponent of the MiB count of size,
// rounding up. Sizes up to 1MiB encode as 0.
func devsizEncode(size uint32) uint32 {
	mib := size >> 20
	var enc uint32
	for mib > 1 && enc < regs.PRT_DEVSIZ.Max() {
		mib = (mib + 3) >> 2
		enc++
	}
	return enc
}

// ViolationStatus reports whether a protection violation was recorded and,
// if clear is set, acknowledges it right after reading. It takes no lock so it
// may be called from the violation handler while a transaction is in flight.
func (d *Device) ViolationStatus(clear bool) bool {
	set := d.regs.ReadField(regs.STS_PRTERR) != 0
	if clear {
		d.regs.WriteField(regs.STS_PRTERR, 1)
	}
	return set
}

// ProtectionLocked reports whether the instance protection lock is set.
func (d *Device) ProtectionLocked() bool {
	d.lock()
	defer d.unlock()
	return d.regs.ReadField(regs.PRT_LCK) != 0
}
