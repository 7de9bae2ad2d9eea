package fiu

import (
	"testing"
	"time"

	"github.com/soypat/fiu/regs"
	"github.com/soypat/fiu/sim"
)

func TestProtectionRangeEncoding(t *testing.T) {
	d, mem := newMemDevice(t)
	err := d.SetProtectionRange(0, 0, 0x3FFF, 3)
	if err != nil {
		t.Fatal(err)
	}
	word := mem.Peek(NPCM750.Bases[0] + uintptr(regs.PRT_RNG(0)))
	if regs.RNG_STRT.Get(word) != 0 || regs.RNG_LAST.Get(word) != 0 || regs.RNG_CSUSE.Get(word) != 3 {
		t.Errorf("range word %#x", word)
	}
	err = d.SetProtectionRange(15, 0x10000, 0x1FFFF, 1)
	if err != nil {
		t.Fatal(err)
	}
	rng, err := d.ProtectionRange(15)
	if err != nil {
		t.Fatal(err)
	}
	if rng != (ProtectRange{Start: 0x10000, End: 0x1FFFF, CSMask: 1}) {
		t.Errorf("read back %+v", rng)
	}
	err = d.LockProtectionRange(15)
	if err != nil {
		t.Fatal(err)
	}
	rng, _ = d.ProtectionRange(15)
	if !rng.Locked {
		t.Error("range lock not set")
	}
}

func TestProtectionRangeRejected(t *testing.T) {
	d, mem := newMemDevice(t)
	tests := []struct {
		index      int
		start, end uint32
		cs         uint8
		want       error
	}{
		{index: 16, end: 0x3FFF, cs: 3, want: ErrRangeIndex},
		{index: -1, end: 0x3FFF, cs: 3, want: ErrRangeIndex},
		{index: 0, end: 0x3FFF, cs: 4, want: ErrBadCSMask},
		{index: 0, end: 0x1000, cs: 1, want: ErrBadRange},
		{index: 0, start: 0x8000, end: 0x3FFF, cs: 1, want: ErrBadRange},
	}
	for _, test := range tests {
		err := d.SetProtectionRange(test.index, test.start, test.end, test.cs)
		if err != test.want {
			t.Errorf("range %d [%#x,%#x]: want %v, got %v", test.index, test.start, test.end, test.want, err)
		}
	}
	if _, err := d.ProtectionRange(16); err != ErrRangeIndex {
		t.Error("read back of range 16 must fail")
	}
	if mem.Writes() != 0 {
		t.Errorf("%d register writes on rejected ranges", mem.Writes())
	}
}

func TestProtectionCommandPacking(t *testing.T) {
	d, mem := newMemDevice(t)
	reg := NPCM750.Bases[0] + uintptr(regs.PRT_CMD0+4)
	mem.Poke(reg, 0x1234)
	code := ProtBankHigh | ProtForbidOutside
	err := d.SetProtectionCommand(3, code, 0x20, 4, Dual, Single)
	if err != nil {
		t.Fatal(err)
	}
	word := mem.Peek(reg)
	if word&0xffff != 0x1234 {
		t.Errorf("entry A clobbered: %#x", word)
	}
	// CMD=0x20 FRBD=1 RSEL=1 AD4B=1 ADBPCK=1 CMBPCK=0.
	const want = 0x20 | 1<<8 | 1<<10 | 1<<11 | 1<<12
	if word>>16 != want {
		t.Errorf("entry B %#x want %#x", word>>16, want)
	}
	pc, err := d.ProtectionCommand(3)
	if err != nil {
		t.Fatal(err)
	}
	wantpc := ProtectCommand{Code: code, Cmd: 0x20, AddrBytes: 4, AddrBits: Dual, CmdBits: Single}
	if pc != wantpc {
		t.Errorf("read back %+v want %+v", pc, wantpc)
	}
}

func TestProtectionCommandRejected(t *testing.T) {
	d, mem := newMemDevice(t)
	tests := []struct {
		slot      int
		code      ProtectCode
		addrBytes int
		addrBits  BitsPerClock
		cmdBits   BitsPerClock
		want      error
	}{
		{slot: 28, addrBytes: 3, addrBits: Single, cmdBits: Single, want: ErrCommandSlot},
		{slot: -1, addrBytes: 3, addrBits: Single, cmdBits: Single, want: ErrCommandSlot},
		{slot: 0, code: 8, addrBytes: 3, addrBits: Single, cmdBits: Single, want: ErrBadProtectCode},
		{slot: 0, addrBytes: 2, addrBits: Single, cmdBits: Single, want: ErrBadAddrSize},
		{slot: 0, addrBytes: 4, addrBits: 3, cmdBits: Single, want: ErrBadBitsPerClock},
		{slot: 27, addrBytes: 4, addrBits: Quad, cmdBits: 0, want: ErrBadBitsPerClock},
	}
	for _, test := range tests {
		err := d.SetProtectionCommand(test.slot, test.code, 0x03, test.addrBytes, test.addrBits, test.cmdBits)
		if err != test.want {
			t.Errorf("slot %d: want %v, got %v", test.slot, test.want, err)
		}
	}
	if mem.Writes() != 0 {
		t.Errorf("%d register writes on rejected commands", mem.Writes())
	}
}

func TestConfigureProtectionOrder(t *testing.T) {
	d, mem := newMemDevice(t)
	err := d.ConfigureProtection(ProtectConfig{Enable: true, Handler: func(*Device) {}})
	if err != ErrNoIRQController {
		t.Fatal("want ErrNoIRQController, got", err)
	}
	if mem.Writes() != 0 {
		t.Fatal("register written without interrupt controller")
	}

	intc := &sim.Intc{}
	d.irq = intc
	err = d.ConfigureProtection(ProtectConfig{
		Lock:       true,
		Enable:     true,
		DeviceSize: 16 << 20,
		ForceCS:    [2]bool{false, true},
		ForceValue: [2]bool{false, true},
		Handler:    func(*Device) {},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !intc.Registered(NPCM750.IRQLines[0]) {
		t.Fatal("handler not registered")
	}
	if intc.Polarity[NPCM750.IRQLines[0]] != irqPolarityHigh {
		t.Error("bad polarity")
	}
	base := NPCM750.Bases[0]
	enableAt, penAt := -1, -1
	var cfgWrites []uint32
	for i, a := range mem.Log {
		if !a.Write {
			continue
		}
		switch a.Addr {
		case base + regs.PRT_STS:
			if a.Value&regs.STS_PRTIE.Mask() != 0 && enableAt < 0 {
				enableAt = i
			}
		case base + regs.PRT_CFG:
			cfgWrites = append(cfgWrites, a.Value)
			if a.Value&regs.PRT_PEN.Mask() != 0 && penAt < 0 {
				penAt = i
			}
		}
	}
	if enableAt < 0 || penAt < enableAt {
		t.Errorf("interrupt enabled at %d, protection enabled at %d", enableAt, penAt)
	}
	if len(cfgWrites) < 2 {
		t.Fatal("protection configuration written once")
	}
	final := cfgWrites[len(cfgWrites)-1]
	prior := cfgWrites[len(cfgWrites)-2]
	if prior&(regs.PRT_PEN.Mask()|regs.PRT_LCK.Mask()) != 0 {
		t.Error("enable or lock written before the rest of the configuration")
	}
	if regs.PRT_LCK.Get(final) != 1 || regs.PRT_PEN.Get(final) != 1 {
		t.Error("enable and lock not set")
	}
	if regs.PRT_DEVSIZ.Get(final) != 2 {
		t.Error("16MiB device size must encode as 2, got", regs.PRT_DEVSIZ.Get(final))
	}
	if regs.PRT_FCS_EN(1).Get(final) != 1 || regs.PRT_FCS_VAL(1).Get(final) != 1 || regs.PRT_FCS_LCK(1).Get(final) != 1 {
		t.Error("cs1 force inactive not set and locked")
	}
	if regs.PRT_FCS_EN(0).Get(final) != 0 || regs.PRT_FCS_LCK(0).Get(final) != 0 {
		t.Error("cs0 force bits set")
	}
	if !d.ProtectionLocked() {
		t.Error("lock not reported")
	}
}

func TestDevsizEncode(t *testing.T) {
	tests := []struct {
		size uint32
		want uint32
	}{
		{0, 0},
		{512 << 10, 0},
		{1 << 20, 0},
		{2 << 20, 1},
		{4 << 20, 1},
		{8 << 20, 2},
		{16 << 20, 2},
		{64 << 20, 3},
		{256 << 20, 4},
	}
	for _, test := range tests {
		got := devsizEncode(test.size)
		if got != test.want {
			t.Errorf("size %d: got %d want %d", test.size, got, test.want)
		}
	}
}

func TestLockedWhitelistViolation(t *testing.T) {
	d, s := newSimDevice(t)
	fl := s.Devices[0]
	if err := d.SetProtectionRange(0, 0, 16<<20-1, 3); err != nil {
		t.Fatal(err)
	}
	if err := d.SetProtectionCommand(0, ProtAllowed, sim.CmdRead, 3, Single, Single); err != nil {
		t.Fatal(err)
	}
	var handled int
	var seen bool
	err := d.ConfigureProtection(ProtectConfig{
		Lock:       true,
		Enable:     true,
		DeviceSize: 16 << 20,
		Handler: func(d *Device) {
			handled++
			seen = d.ViolationStatus(false)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	fl.Data[0x1000] = 0x5A

	// Page program is not whitelisted: dropped by hardware, no error reported.
	err = d.UMAWrite(0, sim.CmdPageProgram, 0x1000, Addr3, []byte{0x00}, time.Millisecond)
	if err != nil {
		t.Fatal("blocked command must still complete, got", err)
	}
	if !d.ViolationStatus(false) {
		t.Error("violation status not set")
	}
	if handled != 1 || !seen {
		t.Errorf("handler called %d times, saw status %v", handled, seen)
	}
	if fl.Data[0x1000] != 0x5A {
		t.Error("blocked command reached the flash")
	}
	if !s.Log[len(s.Log)-1].Blocked {
		t.Error("transaction not blocked")
	}

	if !d.ViolationStatus(true) {
		t.Error("violation status lost before clear")
	}
	if d.ViolationStatus(false) {
		t.Error("violation status not cleared")
	}

	var buf [1]byte
	err = d.UMARead(0, sim.CmdRead, 0x1000, Addr3, buf[:], time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0x5A || d.ViolationStatus(false) {
		t.Error("whitelisted read blocked")
	}

	// Locked: reconfiguration is silently ignored.
	if err := d.SetProtectionRange(0, 0, 0x3FFF, 1); err != nil {
		t.Fatal(err)
	}
	rng, _ := d.ProtectionRange(0)
	if rng.End != 16<<20-1 {
		t.Error("locked range modified")
	}
}

func TestRangeDispositions(t *testing.T) {
	d, _ := newSimDevice(t)
	// Range 8 (bank 1) covers the first 64KiB of cs0.
	if err := d.SetProtectionRange(8, 0, 0xFFFF, 1); err != nil {
		t.Fatal(err)
	}
	if err := d.SetProtectionCommand(0, ProtBankHigh|ProtForbidInside, sim.CmdRead, 3, Single, Single); err != nil {
		t.Fatal(err)
	}
	if err := d.SetProtectionCommand(1, ProtBankHigh|ProtForbidOutside, sim.CmdFastRead, 3, Single, Single); err != nil {
		t.Fatal(err)
	}
	err := d.ConfigureProtection(ProtectConfig{Enable: true, DeviceSize: 16 << 20, OtherCommandsAllowed: true})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		cmd     byte
		addr    uint32
		blocked bool
	}{
		{cmd: sim.CmdRead, addr: 0x100, blocked: true},
		{cmd: sim.CmdRead, addr: 0x10000, blocked: false},
		{cmd: sim.CmdFastRead, addr: 0x100, blocked: false},
		{cmd: sim.CmdFastRead, addr: 0x10000, blocked: true},
		{cmd: sim.CmdJEDECID, blocked: false}, // Not whitelisted, others allowed.
	}
	var buf [4]byte
	for _, test := range tests {
		err := d.UMARead(0, test.cmd, test.addr, Addr3, buf[:], time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if got := d.ViolationStatus(true); got != test.blocked {
			t.Errorf("cmd %#x at %#x: violation=%v want %v", test.cmd, test.addr, got, test.blocked)
		}
	}
	if d.ProtectionLocked() {
		t.Error("protection locked without request")
	}
}
