package fiu

import (
	"log/slog"
	"time"

	"github.com/soypat/fiu/regs"
)

// PageSize is the largest program unit accepted by PageWrite.
const PageSize = 256

// Transfer describes a UMA transaction of arbitrary length issued by Ioctl.
type Transfer struct {
	Device int
	Cmd    byte
	Addr   uint32
	// AddrSize is the number of address bytes sent, 0, 3 or 4.
	AddrSize int
	// Dummy is the number of dummy bytes between address and data, clocked at AddrBits.
	Dummy int
	// Write is sent after the dummy bytes, Read is filled with the bytes
	// clocked in after them. Both may be set.
	Write []byte
	Read  []byte
	// Bits per clock of each phase.
	CmdBits   BitsPerClock
	AddrBits  BitsPerClock
	WriteBits BitsPerClock
	ReadBits  BitsPerClock
}

// umaPhase is the resolved per-chunk shape of a transaction.
type umaPhase struct {
	cmd    bool
	addr   int
	dummy  int
	wsize  int
	rsize  int
	cmdw   BitsPerClock
	addrw  BitsPerClock
	dummyw BitsPerClock
	wrw    BitsPerClock
	rdw    BitsPerClock
}

// word packs p into a UMA_CFG value. Widths must be valid.
func (p *umaPhase) word() (cfg uint32) {
	raw := func(b BitsPerClock) uint32 {
		r, _ := b.raw()
		return r
	}
	regs.UMA_CMDSIZ.Set(&cfg, b2u32(p.cmd))
	regs.UMA_ADDSIZ.Set(&cfg, uint32(p.addr))
	regs.UMA_DBSIZ.Set(&cfg, uint32(p.dummy))
	regs.UMA_WDATSIZ.Set(&cfg, uint32(p.wsize))
	regs.UMA_RDATSIZ.Set(&cfg, uint32(p.rsize))
	if p.cmd {
		regs.UMA_CMBPCK.Set(&cfg, raw(p.cmdw))
	}
	regs.UMA_ADBPCK.Set(&cfg, raw(p.addrw))
	regs.UMA_DBPCK.Set(&cfg, raw(p.dummyw))
	regs.UMA_WDBPCK.Set(&cfg, raw(p.wrw))
	regs.UMA_RDBPCK.Set(&cfg, raw(p.rdw))
	return cfg
}

// modePhase returns phase widths derived from the current read mode.
func (d *Device) modePhase() (p umaPhase, rm ReadMode) {
	rm = d.readMode()
	w := rm.BitsPerClock()
	return umaPhase{cmd: true, cmdw: w, addrw: w, dummyw: w, wrw: w, rdw: w}, rm
}

// addrSize resolves m for device to an address byte count.
func (d *Device) addrSize(device int, m AddrMode) (int, error) {
	switch m {
	case AddrNone:
		return 0, nil
	case AddrAuto:
		if d.addr4[device] {
			return 4, nil
		}
		return 3, nil
	case Addr3:
		return 3, nil
	case Addr4:
		return 4, nil
	}
	return 0, ErrBadAddrSize
}

// UMARead issues a single transaction on device sending cmd and, depending on
// mode, addr, then reads len(buf) <= 16 bytes into buf. Phase widths follow the
// current read mode.
func (d *Device) UMARead(device int, cmd byte, addr uint32, mode AddrMode, buf []byte, timeout time.Duration) error {
	d.checkDevice(device)
	if len(buf) > regs.UMAMaxData {
		return ErrBadSize
	}
	d.lock()
	defer d.unlock()
	addsiz, err := d.addrSize(device, mode)
	if err != nil {
		return err
	}
	p, _ := d.modePhase()
	p.addr = addsiz
	p.rsize = len(buf)
	d.debug("UMARead", slog.Int("cs", device), slog.Uint64("cmd", uint64(cmd)), slog.Uint64("addr", uint64(addr)), slog.Int("len", len(buf)))

	d.selectChip(device)
	d.write(regs.UMA_ADDR, addr)
	d.write(regs.UMA_CMD, uint32(cmd))
	d.write(regs.UMA_CFG, p.word())
	d.writeField(regs.CTS_EXEC_DONE, 1)
	err = d.waitReady(timeout)
	if err != nil {
		return err
	}
	d.harvest(buf)
	return nil
}

// UMAWrite issues a single transaction on device sending cmd, the address
// selected by mode and len(data) <= 16 bytes. In SPI-X read mode the command
// phase is omitted.
func (d *Device) UMAWrite(device int, cmd byte, addr uint32, mode AddrMode, data []byte, timeout time.Duration) error {
	d.checkDevice(device)
	if len(data) > regs.UMAMaxData {
		return ErrBadSize
	}
	d.lock()
	defer d.unlock()
	addsiz, err := d.addrSize(device, mode)
	if err != nil {
		return err
	}
	p, rm := d.modePhase()
	p.cmd = rm != ReadSPIX
	p.addr = addsiz
	p.wsize = len(data)
	d.debug("UMAWrite", slog.Int("cs", device), slog.Uint64("cmd", uint64(cmd)), slog.Uint64("addr", uint64(addr)), slog.Int("len", len(data)))

	d.selectChip(device)
	d.write(regs.UMA_ADDR, addr)
	d.write(regs.UMA_CMD, uint32(cmd))
	d.write(regs.UMA_CFG, p.word())
	for i := 0; i < regs.UMADataWords; i++ {
		var w uint32
		if 4*i < len(data) {
			w = putWord(data[4*i:])
		}
		d.write(regs.UMA_DW(i), w)
	}
	d.writeField(regs.CTS_RDYST, 1)
	if d.settle > 0 {
		time.Sleep(d.settle)
	}
	d.writeField(regs.CTS_EXEC_DONE, 1)
	return d.waitReady(timeout)
}

// Ioctl issues t as a sequence of 16 byte UMA bursts while holding the chip
// select of t.Device asserted. Only the first burst carries command, address
// and dummy bytes. Each burst waits for the previous one to complete before
// being issued, and again before its read data is collected.
func (d *Device) Ioctl(t *Transfer, timeout time.Duration) error {
	d.checkDevice(t.Device)
	for _, b := range [...]BitsPerClock{t.CmdBits, t.AddrBits, t.WriteBits, t.ReadBits} {
		if _, ok := b.raw(); !ok {
			return ErrBadBitsPerClock
		}
	}
	if t.AddrSize != 0 && t.AddrSize != 3 && t.AddrSize != 4 {
		return ErrBadAddrSize
	}
	if t.Dummy < 0 || uint32(t.Dummy) > regs.UMA_DBSIZ.Max() {
		return ErrBadDummy
	}
	d.lock()
	defer d.unlock()
	d.debug("Ioctl", slog.Int("cs", t.Device), slog.Uint64("cmd", uint64(t.Cmd)),
		slog.Int("wlen", len(t.Write)), slog.Int("rlen", len(t.Read)))
	return d.transfer(t, true, timeout)
}

// PageWrite programs up to PageSize bytes with a single command and address
// followed by streamed data bursts. Chip select is released after the last
// burst completes or on the first error. Phase widths follow the read mode
// and the address width follows the 4 byte addressing flag of device.
func (d *Device) PageWrite(device int, cmd byte, addr uint32, data []byte, timeout time.Duration) error {
	d.checkDevice(device)
	if len(data) > PageSize {
		return ErrBadSize
	}
	d.lock()
	defer d.unlock()
	addsiz, _ := d.addrSize(device, AddrAuto)
	rm := d.readMode()
	w := rm.BitsPerClock()
	t := Transfer{
		Device:    device,
		Cmd:       cmd,
		Addr:      addr,
		AddrSize:  addsiz,
		Write:     data,
		CmdBits:   w,
		AddrBits:  w,
		WriteBits: w,
		ReadBits:  w,
	}
	d.debug("PageWrite", slog.Int("cs", device), slog.Uint64("addr", uint64(addr)), slog.Int("len", len(data)))
	return d.transfer(&t, rm != ReadSPIX, timeout)
}

func (d *Device) transfer(t *Transfer, sendCmd bool, timeout time.Duration) (err error) {
	size := max(len(t.Read), len(t.Write))
	d.selectChip(t.Device)
	d.setCS(true)
	defer d.setCS(false)
	first := true
	for off := 0; first || off < size; off += regs.UMAMaxData {
		err = d.waitReady(timeout)
		if err != nil {
			return err
		}
		p := umaPhase{
			wsize:  min(max(len(t.Write)-off, 0), regs.UMAMaxData),
			rsize:  min(max(len(t.Read)-off, 0), regs.UMAMaxData),
			cmdw:   t.CmdBits,
			addrw:  t.AddrBits,
			dummyw: t.AddrBits,
			wrw:    t.WriteBits,
			rdw:    t.ReadBits,
		}
		if first {
			p.cmd = sendCmd
			p.addr = t.AddrSize
			p.dummy = t.Dummy
			d.write(regs.UMA_ADDR, t.Addr)
			d.write(regs.UMA_CMD, uint32(t.Cmd))
		}
		if d._traceenabled {
			d.trace("transfer:chunk", slog.Int("off", off), slog.Int("w", p.wsize), slog.Int("r", p.rsize))
		}
		for i := 0; 4*i < p.wsize; i++ {
			d.write(regs.UMA_DW(i), putWord(t.Write[off+4*i:off+p.wsize]))
		}
		d.write(regs.UMA_CFG, p.word())
		d.writeField(regs.CTS_EXEC_DONE, 1)
		err = d.waitReady(timeout)
		if err != nil {
			return err
		}
		d.harvest(t.Read[min(off, len(t.Read)) : min(off, len(t.Read))+p.rsize])
		first = false
	}
	return nil
}

// harvest copies the read data registers into buf. Register n is read only
// when buf extends into it.
func (d *Device) harvest(buf []byte) {
	for i := 0; 4*i < len(buf); i++ {
		getWord(buf[4*i:], d.regs.Read(regs.UMA_DR(i)))
	}
}
