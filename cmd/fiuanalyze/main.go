package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

// Decoder turns captured SPI frames into flash commands.
type Decoder struct {
	// Addr4 decodes addressed commands with 4 address bytes.
	Addr4        bool
	OmitReadData bool
	OmitRead     bool
	OmitWrite    bool
	// OmitStatus drops status register polling.
	OmitStatus bool
}

func main() {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "fiuanalyze - Process Binary Saleae digital data files of an FIU SPI-NOR flash bus.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS data.")
	clk := flag.String("f-clk", "digital_1.bin", "Input filename: SPI CLK data.")
	mosi := flag.String("f-mosi", "digital_2.bin", "Input filename: SPI MOSI (IO0) data.")
	miso := flag.String("f-miso", "digital_3.bin", "Input filename: SPI MISO (IO1) data.")
	output := flag.String("o", "-", "Output filename of flash commands. - writes to stdout.")
	var dec Decoder
	flag.BoolVar(&dec.Addr4, "addr4", false, "Decode addresses as 4 bytes.")
	flag.BoolVar(&dec.OmitReadData, "omit-read-data", false, "Omit read data in output.")
	flag.BoolVar(&dec.OmitRead, "omit-read", false, "Omit read commands in output.")
	flag.BoolVar(&dec.OmitWrite, "omit-write", false, "Omit write commands in output.")
	flag.BoolVar(&dec.OmitStatus, "omit-status", false, "Omit status register reads.")
	flag.Parse()
	if dec.OmitRead && dec.OmitWrite {
		slog.Error("cannot omit both read and write commands")
		os.Exit(1)
	}
	start := time.Now()
	err := dec.run(*mosi, *miso, *enable, *clk, *output)
	if err != nil {
		slog.Error("fiuanalyze", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("finished", slog.Duration("elapsed", time.Since(start)))
}

func (dec *Decoder) run(mosi, miso, enable, clk, output string) (err error) {
	frames, err := processSpiFiles(mosi, miso, clk, enable)
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	if output != "-" {
		fp, ferr := os.Create(output)
		if ferr != nil {
			return ferr
		}
		defer func() { err = errors.Join(err, fp.Close()) }()
		w = fp
	}
	return dec.write(w, dec.process(frames))
}

func (dec *Decoder) write(w io.Writer, txs []fiutx) error {
	const fmtMsg = "cmd×%-3d t=%-10.6f %s"
	for _, tx := range txs {
		if (dec.OmitRead && !tx.Cmd.Write) || (dec.OmitWrite && tx.Cmd.Write) {
			continue
		}
		if dec.OmitStatus && tx.Cmd.Op == opReadStatus {
			continue
		}
		data := tx.Data
		if dec.OmitReadData && !tx.Cmd.Write {
			data = nil
		}
		_, err := fmt.Fprintf(w, fmtMsg, tx.Num, tx.Start, tx.Cmd.String())
		if err != nil {
			return err
		}
		if len(data) > 0 {
			fmt.Fprintf(w, " data=%#x", data)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// frame is the bytes exchanged while chip select was asserted.
type frame struct {
	MOSI  []byte
	MISO  []byte
	Start float64
}

func processSpiFiles(fmosi, fmiso, fclk, fenable string) ([]frame, error) {
	mosi, err := opendigital(fmosi)
	if err != nil {
		return nil, err
	}
	miso, err := opendigital(fmiso)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	out, _ := spi.Scan(clk, enable, mosi, mosi)
	in, _ := spi.Scan(clk, enable, miso, miso)
	if len(in) != len(out) {
		slog.Warn("frame count mismatch", slog.Int("mosi", len(out)), slog.Int("miso", len(in)))
	}
	frames := make([]frame, len(out))
	for i, tx := range out {
		frames[i] = frame{MOSI: tx.SDO, Start: tx.StartTime()}
		if i < len(in) {
			frames[i].MISO = in[i].SDO
		}
	}
	return frames, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

type opcode byte

const (
	opWriteStatus  opcode = 0x01
	opPageProgram  opcode = 0x02
	opRead         opcode = 0x03
	opWriteDisable opcode = 0x04
	opReadStatus   opcode = 0x05
	opWriteEnable  opcode = 0x06
	opFastRead     opcode = 0x0B
	opSectorErase  opcode = 0x20
	opDualOutRead  opcode = 0x3B
	opJEDECID      opcode = 0x9F
	opEnter4Byte   opcode = 0xB7
	opDualIORead   opcode = 0xBB
	opChipErase    opcode = 0xC7
	opBlockErase   opcode = 0xD8
	opExit4Byte    opcode = 0xE9
	opQuadIORead   opcode = 0xEB
)

// opinfo describes the frame layout following an opcode.
type opinfo struct {
	name  string
	addr  bool
	dummy int
	write bool
}

var ops = map[opcode]opinfo{
	opWriteStatus:  {name: "WRSR", write: true},
	opPageProgram:  {name: "PP", addr: true, write: true},
	opRead:         {name: "READ", addr: true},
	opWriteDisable: {name: "WRDI", write: true},
	opReadStatus:   {name: "RDSR"},
	opWriteEnable:  {name: "WREN", write: true},
	opFastRead:     {name: "FAST_READ", addr: true, dummy: 1},
	opSectorErase:  {name: "SE", addr: true, write: true},
	opDualOutRead:  {name: "DOR", addr: true, dummy: 1},
	opJEDECID:      {name: "RDID"},
	opEnter4Byte:   {name: "EN4B", write: true},
	opDualIORead:   {name: "DIOR", addr: true, dummy: 1},
	opChipErase:    {name: "CE", write: true},
	opBlockErase:   {name: "BE", addr: true, write: true},
	opExit4Byte:    {name: "EX4B", write: true},
	opQuadIORead:   {name: "QIOR", addr: true, dummy: 3},
}

// FlashCmd is a decoded flash command.
type FlashCmd struct {
	Op      opcode
	Write   bool
	HasAddr bool
	Addr    uint32
	// Short is set when the frame ended before the command layout did.
	Short bool
}

func (cmd FlashCmd) String() string {
	name := "UNKNOWN"
	if info, ok := ops[cmd.Op]; ok {
		name = info.name
	}
	s := fmt.Sprintf("op=%#02x %-9s", byte(cmd.Op), name)
	if cmd.HasAddr {
		s += fmt.Sprintf(" addr=%#08x", cmd.Addr)
	}
	if cmd.Short {
		s += " short"
	}
	return s
}

// CommandFromFrame decodes f. Data is taken from MOSI for write commands and
// from MISO otherwise. Multi-IO commands are decoded as if clocked on one line.
func (dec *Decoder) CommandFromFrame(f frame) (cmd FlashCmd, data []byte) {
	if len(f.MOSI) == 0 {
		return FlashCmd{Short: true}, nil
	}
	cmd.Op = opcode(f.MOSI[0])
	info, known := ops[cmd.Op]
	cmd.Write = info.write
	hdr := 1
	if known && info.addr {
		n := 3
		if dec.Addr4 {
			n = 4
		}
		if len(f.MOSI) < 1+n {
			cmd.Short = true
			return cmd, nil
		}
		cmd.HasAddr = true
		for _, b := range f.MOSI[1 : 1+n] {
			cmd.Addr = cmd.Addr<<8 | uint32(b)
		}
		hdr += n
	}
	hdr += info.dummy
	src := f.MISO
	if cmd.Write || !known {
		src = f.MOSI
	}
	if len(src) > hdr {
		data = src[hdr:]
	}
	return cmd, data
}

type fiutx struct {
	Num   int
	Cmd   FlashCmd
	Data  []byte
	Start float64
}

// process decodes frames, collapsing identical consecutive commands.
func (dec *Decoder) process(frames []frame) (txs []fiutx) {
	for i := 0; i < len(frames); i++ {
		cmd, data := dec.CommandFromFrame(frames[i])
		num := 1
		for j := i + 1; j < len(frames); j++ {
			nextcmd, nextdata := dec.CommandFromFrame(frames[j])
			if nextcmd != cmd || !bytes.Equal(data, nextdata) {
				break
			}
			num++
			i = j
		}
		txs = append(txs, fiutx{
			Num:   num,
			Cmd:   cmd,
			Data:  data,
			Start: frames[i-num+1].Start,
		})
	}
	return txs
}
