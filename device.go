// Package fiu drives the Flash Interface Unit (FIU) of Nuvoton NPCM7xx class
// BMC SoCs: the block between the CPU and the SPI-NOR boot flash.
//
// A Device issues user mode access (UMA) transactions, configures the direct
// access engine behind the memory mapped flash window and programs the
// hardware protection whitelist that, once locked, filters every flash
// command reaching the pins.
package fiu

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/soypat/fiu/mmio"
	"github.com/soypat/fiu/regs"
)

// MaxDevices is the largest number of chip selects of an FIU instance.
const MaxDevices = 4

// Chip describes the FIU instances of a SoC.
type Chip struct {
	Name string
	// Bases holds the register block base of each FIU instance.
	Bases []uintptr
	// Windows holds the direct-map base of each FIU instance. Chip select n
	// is mapped at Windows[i] + n*WindowStride.
	Windows      []uintptr
	WindowStride uint32
	// Devices holds the number of chip selects of each FIU instance.
	Devices []int
	// Interrupt controller provider and protection violation line of each instance.
	IRQProvider int
	IRQLines    []int
}

// NPCM750 describes the FIU instances of a Nuvoton NPCM750 class BMC:
// FIU0, FIU1, FIU3 and FIUX in that index order.
var NPCM750 = Chip{
	Name:         "npcm750",
	Bases:        []uintptr{0xFB00_0000, 0xFB00_2000, 0xC000_0000, 0xFB00_1000},
	Windows:      []uintptr{0x8000_0000, 0x9000_0000, 0xA000_0000, 0xE000_0000},
	WindowStride: 0x0800_0000,
	Devices:      []int{2, 2, 4, 2},
	IRQLines:     []int{100, 101, 102, 103},
}

// IRQRegistrar is the interrupt controller primitive used to attach the
// protection violation handler.
type IRQRegistrar interface {
	RegisterAndEnable(provider, line int, handler func(), polarity, priority int) error
}

const (
	irqPolarityHigh = 1
	irqPriority     = 0
)

// Config configures an FIU instance in Init.
type Config struct {
	// Logger receives driver logs. nil disables logging.
	Logger *slog.Logger
	// FlashSize is the size in bytes of the flash on each chip select, 0 if absent.
	FlashSize [MaxDevices]uint32
	// PollPeriod is the period at which the done flag is sampled when waiting
	// with a timeout.
	PollPeriod time.Duration
	// SettleDelay is waited between arming a UMA write and triggering it.
	SettleDelay time.Duration
	// IRQ registers the protection violation handler. May be nil when no
	// handler is used.
	IRQ IRQRegistrar
}

func DefaultConfig() Config {
	return Config{
		FlashSize:   [MaxDevices]uint32{16 << 20},
		PollPeriod:  time.Microsecond,
		SettleDelay: time.Microsecond,
	}
}

// Device is one FIU instance. Methods are safe for concurrent use; the
// hardware itself is exclusive per instance.
type Device struct {
	mu     sync.Mutex
	chip   *Chip
	index  int
	regs   regs.Block
	window uintptr
	ndev   int

	flashSize [MaxDevices]uint32
	// addr4 is the persisted 4 byte addressing flag of each chip select.
	addr4 [MaxDevices]bool

	pollPeriod    time.Duration
	settle        time.Duration
	irq           IRQRegistrar
	logger        *slog.Logger
	_traceenabled bool
}

// New returns the FIU instance index of chip accessed through bus.
// Init must be called before use.
func New(bus mmio.Bus, chip *Chip, index int) *Device {
	if index < 0 || index >= len(chip.Bases) {
		panic("fiu: bad argument to New: instance " + strconv.Itoa(index) + " not in " + chip.Name)
	}
	d := &Device{
		chip:       chip,
		index:      index,
		regs:       regs.Block{Bus: bus, Base: chip.Bases[index]},
		ndev:       chip.Devices[index],
		pollPeriod: time.Microsecond,
	}
	if index < len(chip.Windows) {
		d.window = chip.Windows[index]
	}
	return d
}

// Init applies cfg. It does not touch the hardware beyond reading the version register.
func (d *Device) Init(cfg Config) error {
	d.lock()
	defer d.unlock()
	d.logger = cfg.Logger
	d._traceenabled = d.logger != nil && d.logger.Handler().Enabled(context.Background(), levelTrace)
	for cs, sz := range cfg.FlashSize {
		if sz != 0 && cs >= d.ndev {
			return errors.New("fiu: flash size given for absent chip select " + strconv.Itoa(cs))
		}
		if uint64(sz) > uint64(d.chip.WindowStride) && d.chip.WindowStride != 0 {
			return errors.New("fiu: flash size exceeds direct map window")
		}
	}
	d.flashSize = cfg.FlashSize
	d.pollPeriod = cfg.PollPeriod
	if d.pollPeriod <= 0 {
		d.pollPeriod = time.Microsecond
	}
	d.settle = cfg.SettleDelay
	d.irq = cfg.IRQ
	d.info("Init",
		slog.String("chip", d.chip.Name),
		slog.Int("fiu", d.index),
		slog.Uint64("base", uint64(d.regs.Base)),
		slog.Uint64("version", uint64(d.regs.Read(regs.FIU_VER))),
	)
	return nil
}

// Index returns the instance index of d within its chip.
func (d *Device) Index() int { return d.index }

// Devices returns the number of chip selects of d.
func (d *Device) Devices() int { return d.ndev }

// FlashSize returns the configured flash size of chip select device.
func (d *Device) FlashSize(device int) uint32 {
	d.checkDevice(device)
	return d.flashSize[device]
}

// Version returns the FIU version register.
func (d *Device) Version() uint32 {
	d.lock()
	defer d.unlock()
	return d.regs.Read(regs.FIU_VER)
}

// checkDevice panics if device is not a chip select of d.
func (d *Device) checkDevice(device int) {
	if device < 0 || device >= d.ndev {
		panic("fiu: bad argument: chip select " + strconv.Itoa(device) + " >= " + strconv.Itoa(d.ndev))
	}
}

func (d *Device) lock()   { d.mu.Lock() }
func (d *Device) unlock() { d.mu.Unlock() }

func (d *Device) write(off, v uint32) {
	if d._traceenabled {
		d.trace("wr", slog.String("reg", regs.Name(off)), slog.Uint64("val", uint64(v)))
	}
	d.regs.Write(off, v)
}

func (d *Device) writeField(f regs.Field, v uint32) {
	if d._traceenabled {
		d.trace("wrf", slog.String("reg", regs.Name(f.Reg)), slog.Int("pos", int(f.Pos)), slog.Uint64("val", uint64(v)))
	}
	d.regs.WriteField(f, v)
}

//go:inline
func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
