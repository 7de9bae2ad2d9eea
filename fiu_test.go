package fiu

import (
	"io"
	"log/slog"
	"testing"

	"github.com/soypat/fiu/mmio"
	"github.com/soypat/fiu/regs"
	"github.com/soypat/fiu/sim"
)

var jedecWinbond = [3]byte{0xEF, 0x40, 0x18}

// newMemDevice returns FIU0 of NPCM750 over a recording register file whose
// EXEC_DONE bit clears on write, as if every transaction completed at once.
func newMemDevice(t *testing.T) (*Device, *mmio.Mem) {
	t.Helper()
	base := NPCM750.Bases[0]
	mem := &mmio.Mem{AutoClear: map[uintptr]uint32{
		base + regs.UMA_CTS: regs.CTS_EXEC_DONE.Mask(),
	}}
	d := New(mem, &NPCM750, 0)
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	err := d.Init(cfg)
	if err != nil {
		t.Fatal(err)
	}
	mem.Record = true
	return d, mem
}

// newSimDevice returns FIU0 of NPCM750 over a simulated FIU with a 16MiB
// flash on chip select 0.
func newSimDevice(t *testing.T) (*Device, *sim.FIU) {
	t.Helper()
	chip := &NPCM750
	s := sim.NewFIU(chip.Bases[0], chip.Windows[0], chip.WindowStride)
	s.Devices[0] = sim.NewFlash(16<<20, jedecWinbond)
	s.Intc = &sim.Intc{}
	s.Line = chip.IRQLines[0]
	d := New(s, chip, 0)
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.IRQ = s.Intc
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelTrace}))
	err := d.Init(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return d, s
}

func peekField(mem *mmio.Mem, f regs.Field) uint32 {
	return f.Get(mem.Peek(NPCM750.Bases[0] + uintptr(f.Reg)))
}

func TestNewBadInstance(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for instance outside chip")
		}
	}()
	New(&mmio.Mem{}, &NPCM750, len(NPCM750.Bases))
}

func TestInitRejectsAbsentChipSelect(t *testing.T) {
	d := New(&mmio.Mem{}, &NPCM750, 0)
	cfg := DefaultConfig()
	cfg.FlashSize[3] = 1 << 20 // FIU0 has 2 chip selects.
	if d.Init(cfg) == nil {
		t.Error("expected error for flash on absent chip select")
	}
}

func TestVersion(t *testing.T) {
	d, _ := newSimDevice(t)
	if d.Version() != sim.DefaultVersion {
		t.Errorf("version %#x", d.Version())
	}
}

func TestReadModeMapping(t *testing.T) {
	for m := ReadNormal; m < numReadModes; m++ {
		acctype, dbw, _ := m.fields()
		got := readModeFromFields(acctype, dbw)
		if got != m {
			t.Errorf("%s: round trip got %s", m, got)
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic for bad read mode")
		}
	}()
	numReadModes.fields()
}

func TestBitsPerClockMapping(t *testing.T) {
	for _, b := range []BitsPerClock{Single, Dual, Quad} {
		raw, ok := b.raw()
		if !ok {
			t.Fatalf("%d bits per clock rejected", b)
		}
		if bitsPerClockFromRaw(raw) != b {
			t.Errorf("%d bits per clock: raw %d round trip failed", b, raw)
		}
	}
	for _, b := range []BitsPerClock{0, 3, 8} {
		if _, ok := b.raw(); ok {
			t.Errorf("%d bits per clock accepted", b)
		}
	}
}

func TestProtectCodeSplit(t *testing.T) {
	c := ProtBankHigh | ProtForbidOutside
	if c.Disposition() != ProtForbidOutside {
		t.Error("bad disposition", c.Disposition())
	}
	if c.Bank() != 1 {
		t.Error("bad bank", c.Bank())
	}
	if ProtForbidden.Bank() != 0 || ProtAllowed.Disposition() != ProtAllowed {
		t.Error("bad low bank code")
	}
	if c.String() != "forbid-outside/bank1" {
		t.Error("bad string", c.String())
	}
}

func TestConfigureDirect(t *testing.T) {
	d, mem := newMemDevice(t)
	d.ConfigureDirect(32<<20, ReadQuadIO, Burst16, Burst4)
	if d.ReadMode() != ReadQuadIO {
		t.Error("want quad-io, got", d.ReadMode())
	}
	if peekField(mem, regs.DRD_RDCMD) != 0xEB {
		t.Errorf("read command %#x", peekField(mem, regs.DRD_RDCMD))
	}
	if peekField(mem, regs.DRD_ADDSIZ) != 1 || peekField(mem, regs.DWR_ADDSIZ) != 1 {
		t.Error("32MiB flash needs 4 byte addressing")
	}
	if peekField(mem, regs.DRD_RBURST) != uint32(Burst16) || peekField(mem, regs.DWR_WBURST) != uint32(Burst4) {
		t.Error("bad bursts")
	}
	if !d.FourByteAddressing(0) {
		t.Error("4 byte addressing not reported")
	}
	d.ConfigureDirect(16<<20, ReadFast, Burst1, Burst1)
	if d.FourByteAddressing(0) {
		t.Error("16MiB flash needs 3 byte addressing")
	}
}

func TestConfigureDirectBadBurst(t *testing.T) {
	d, mem := newMemDevice(t)
	d.ConfigureDirect(16<<20, ReadFast, Burst16, Burst4)
	defer func() {
		if recover() == nil {
			t.Error("undefined burst encoding must panic")
		}
		if peekField(mem, regs.DRD_RBURST) != uint32(Burst16) {
			t.Error("rejected burst modified hardware")
		}
	}()
	d.ConfigureDirect(16<<20, ReadFast, Burst(1), Burst4)
}

func TestReadModeIsDerived(t *testing.T) {
	d, mem := newMemDevice(t)
	d.ConfigureDirect(16<<20, ReadQuadIO, Burst1, Burst1)
	if d.ReadMode() != ReadQuadIO {
		t.Fatal("want quad-io, got", d.ReadMode())
	}
	addr := NPCM750.Bases[0] + regs.DRD_CFG
	for m := ReadNormal; m < numReadModes; m++ {
		acctype, dbw, _ := m.fields()
		word := mem.Peek(addr)
		regs.DRD_ACCTYPE.Set(&word, acctype)
		regs.DRD_DBW.Set(&word, dbw)
		mem.Poke(addr, word)
		if got := d.ReadMode(); got != m {
			t.Errorf("poked %s, read back %s", m, got)
		}
	}
}

func TestConfigureCommandZeroKeeps(t *testing.T) {
	d, mem := newMemDevice(t)
	d.ConfigureDirect(16<<20, ReadFast, Burst1, Burst1)
	d.ConfigureCommand(0, 0x32)
	if peekField(mem, regs.DRD_RDCMD) != 0x0B {
		t.Error("zero read command must leave field unchanged")
	}
	if peekField(mem, regs.DWR_WRCMD) != 0x32 {
		t.Error("write command not set")
	}
}

func TestSetDummyCycles(t *testing.T) {
	d, mem := newMemDevice(t)
	d.SetDummyCycles(16)
	if peekField(mem, regs.DRD_DBW) != 2 {
		t.Error("16 dummy cycles must program 2 dummy bytes")
	}
	defer func() {
		if recover() == nil {
			t.Error("12 dummy cycles must panic")
		}
		if peekField(mem, regs.DRD_DBW) != 2 {
			t.Error("rejected dummy cycles modified hardware")
		}
	}()
	d.SetDummyCycles(12)
}

func TestSelectChipByAddress(t *testing.T) {
	d, mem := newMemDevice(t)
	d.SelectChipByAddress(0, 16<<20)
	if peekField(mem, regs.CTS_SW_CS) != 1 {
		t.Error("address past flash size must release chip select")
	}
	d.SelectChipByAddress(0, 16<<20-1)
	if peekField(mem, regs.CTS_SW_CS) != 0 {
		t.Error("address inside flash must assert chip select")
	}
	d.SelectChipByAddress(1, 0)
	if peekField(mem, regs.CTS_SW_CS) != 1 || peekField(mem, regs.CTS_DEV_NUM) != 1 {
		t.Error("absent flash on cs1 must release chip select")
	}
}

func TestSelectChipBadDevice(t *testing.T) {
	d, mem := newMemDevice(t)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for chip select beyond device count")
		}
		if mem.Writes() != 0 {
			t.Error("register written before panic")
		}
	}()
	d.SelectChip(d.Devices())
}

func TestFourByteAddressing(t *testing.T) {
	d, mem := newMemDevice(t)
	d.SetFourByteAddressing(0, true)
	if peekField(mem, regs.DRD_ADDSIZ) != 1 || peekField(mem, regs.DWR_ADDSIZ) != 1 {
		t.Error("read and write address size must be set together")
	}
	var buf [4]byte
	err := d.UMARead(0, 0x03, 0x1000, AddrAuto, buf[:], 0)
	if err != nil {
		t.Fatal(err)
	}
	if peekField(mem, regs.UMA_ADDSIZ) != 4 {
		t.Error("auto address must follow 4 byte flag")
	}
	d.SetFourByteAddressing(0, false)
	if d.FourByteAddressing(0) {
		t.Error("4 byte addressing not cleared")
	}
	err = d.UMARead(0, 0x03, 0x1000, AddrAuto, buf[:], 0)
	if err != nil {
		t.Fatal(err)
	}
	if peekField(mem, regs.UMA_ADDSIZ) != 3 {
		t.Error("auto address must fall back to 3 bytes")
	}
}

func TestReadMapped(t *testing.T) {
	d, s := newSimDevice(t)
	fl := s.Devices[0]
	for i := 0; i < 64; i++ {
		fl.Data[i] = byte(i)
	}
	var dst [10]byte
	err := d.ReadMapped(0, 3, dst[:])
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range dst {
		if b != byte(i+3) {
			t.Fatalf("dst[%d]=%d want %d", i, b, i+3)
		}
	}
	if d.Window(1) != NPCM750.Windows[0]+uintptr(NPCM750.WindowStride) {
		t.Errorf("window of cs1 at %#x", d.Window(1))
	}
	err = d.ReadMapped(0, 16<<20-4, dst[:])
	if err != ErrOutOfFlash {
		t.Error("want ErrOutOfFlash, got", err)
	}
}
