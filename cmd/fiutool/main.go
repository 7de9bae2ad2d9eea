//go:build linux

package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"

	"github.com/soypat/fiu"
	"github.com/soypat/fiu/flash"
	"github.com/soypat/fiu/mmio"
	"github.com/soypat/fiu/regs"
)

const usage = `fiutool - inspect and drive an NPCM7xx Flash Interface Unit through /dev/mem.
	Usage: fiutool [flags] <command> [args]

Commands:
	id               read JEDEC identification
	status           read flash status register
	mode             print direct access configuration
	read <off> <n>   read n bytes at off
	prot             dump protection configuration
	clear            acknowledge a protection violation

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	instance := flag.Int("fiu", 0, "FIU instance index: 0=FIU0 1=FIU1 2=FIU3 3=FIUX.")
	cs := flag.Int("cs", 0, "Chip select.")
	size := flag.Uint("size", 16<<20, "Flash size in bytes.")
	mapped := flag.Bool("mapped", false, "Read through the direct-mapped window.")
	output := flag.String("o", "", "Write read data to file instead of a hex dump on stdout.")
	verbose := flag.Bool("v", false, "Log register writes.")
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug - 1
	}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)

	t := tool{chip: &fiu.NPCM750, instance: *instance, cs: *cs, size: uint32(*size), mapped: *mapped, output: *output}
	err := t.open(logger)
	if err == nil {
		err = t.run(flag.Args())
		err = errors.Join(err, t.close())
	}
	if err != nil {
		logger.Error("fiutool", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

type tool struct {
	chip     *fiu.Chip
	instance int
	cs       int
	size     uint32
	mapped   bool
	output   string

	maps  []*mmio.DevMem
	dev   *fiu.Device
	flash *flash.Flash
}

func (t *tool) open(logger *slog.Logger) error {
	if t.instance < 0 || t.instance >= len(t.chip.Bases) {
		return errors.New("no such FIU instance " + strconv.Itoa(t.instance))
	}
	if t.cs < 0 || t.cs >= t.chip.Devices[t.instance] {
		return errors.New("no such chip select " + strconv.Itoa(t.cs))
	}
	pagesize := uintptr(os.Getpagesize())
	base := t.chip.Bases[t.instance]
	mbase := base &^ (pagesize - 1)
	regmap, err := mmio.OpenDevMem(mbase, int(pagesize))
	if err != nil {
		return err
	}
	t.maps = append(t.maps, regmap)
	bus := mmio.Regions{{Base: mbase, Size: pagesize, Bus: regmap}}
	if t.mapped {
		window := t.chip.Windows[t.instance] + uintptr(t.cs)*uintptr(t.chip.WindowStride)
		wsize := (uintptr(t.size) + pagesize - 1) &^ (pagesize - 1)
		winmap, err := mmio.OpenDevMem(window, int(wsize))
		if err != nil {
			return errors.Join(err, t.close())
		}
		t.maps = append(t.maps, winmap)
		bus = append(bus, mmio.Region{Base: window, Size: wsize, Bus: winmap})
	}
	t.dev = fiu.New(bus, t.chip, t.instance)
	cfg := fiu.DefaultConfig()
	cfg.Logger = logger
	cfg.FlashSize = [fiu.MaxDevices]uint32{}
	cfg.FlashSize[t.cs] = t.size
	err = t.dev.Init(cfg)
	if err != nil {
		return errors.Join(err, t.close())
	}
	fcfg := flash.DefaultConfig()
	fcfg.Mapped = t.mapped
	fcfg.Logger = logger
	t.flash = flash.New(t.dev, t.cs, fcfg)
	return nil
}

func (t *tool) close() (err error) {
	for _, m := range t.maps {
		err = errors.Join(err, m.Close())
	}
	t.maps = nil
	return err
}

func (t *tool) run(args []string) error {
	switch args[0] {
	case "id":
		id, err := t.flash.ID()
		if err != nil {
			return err
		}
		fmt.Printf("jedec id: %02x %02x %02x\n", id[0], id[1], id[2])
	case "status":
		st, err := t.flash.Status()
		if err != nil {
			return err
		}
		fmt.Printf("status: %#02x\n", st)
	case "mode":
		fmt.Printf("version: %#x\nread mode: %s\n4 byte addressing: %v\n",
			t.dev.Version(), t.dev.ReadMode(), t.dev.FourByteAddressing(t.cs))
	case "read":
		if len(args) != 3 {
			return errors.New("read needs <off> <n>")
		}
		off, err := strconv.ParseInt(args[1], 0, 64)
		if err != nil {
			return err
		}
		n, err := strconv.ParseInt(args[2], 0, 32)
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		got, err := t.flash.ReadAt(buf, off)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return t.emit(buf[:got])
	case "prot":
		return t.dumpProtection(os.Stdout)
	case "clear":
		fmt.Printf("violation: %v\n", t.dev.ViolationStatus(true))
	default:
		return errors.New("unknown command " + strconv.Quote(args[0]))
	}
	return nil
}

func (t *tool) emit(data []byte) (err error) {
	if t.output == "" {
		d := hex.Dumper(os.Stdout)
		_, err = d.Write(data)
		return errors.Join(err, d.Close())
	}
	return os.WriteFile(t.output, data, 0o644)
}

func (t *tool) dumpProtection(w io.Writer) error {
	fmt.Fprintf(w, "locked: %v\nviolation: %v\n", t.dev.ProtectionLocked(), t.dev.ViolationStatus(false))
	for i := 0; i < regs.ProtRanges; i++ {
		r, err := t.dev.ProtectionRange(i)
		if err != nil {
			return err
		}
		if r.CSMask == 0 {
			continue
		}
		fmt.Fprintf(w, "range %2d: %#08x-%#08x cs=%02b locked=%v\n", i, r.Start, r.End, r.CSMask, r.Locked)
	}
	for slot := 0; slot < regs.ProtCmdSlots; slot++ {
		c, err := t.dev.ProtectionCommand(slot)
		if err != nil {
			return err
		}
		if c == (fiu.ProtectCommand{AddrBytes: 3, AddrBits: fiu.Single, CmdBits: fiu.Single}) {
			continue // Unprogrammed.
		}
		fmt.Fprintf(w, "cmd %2d: %#02x %-18s addr=%d abits=%d cbits=%d\n", slot, c.Cmd, c.Code, c.AddrBytes, c.AddrBits, c.CmdBits)
	}
	return nil
}
