package fiu

import (
	"log/slog"
	"strconv"

	"github.com/soypat/fiu/regs"
)

const fourByteThreshold = 16 << 20

// ConfigureDirect programs the direct access engine used for linear reads and
// writes of the flash window. Flash larger than 16MiB is addressed with 4 bytes.
// Once ReadQuadIO or ReadSPIX is selected the flash usually stays in that mode
// until it is reset; switching back requires another ConfigureDirect call and
// whatever flash command the part needs, which is the caller's business.
func (d *Device) ConfigureDirect(flashSize uint32, mode ReadMode, rd, wr Burst) {
	if !rd.valid() || !wr.valid() {
		panic("fiu: bad argument to ConfigureDirect: burst")
	}
	acctype, dbw, cmd := mode.fields()
	addr4 := flashSize > fourByteThreshold
	d.lock()
	defer d.unlock()
	drd := d.regs.Read(regs.DRD_CFG)
	regs.DRD_RDCMD.Set(&drd, uint32(cmd))
	regs.DRD_ACCTYPE.Set(&drd, acctype)
	regs.DRD_DBW.Set(&drd, dbw)
	regs.DRD_ADDSIZ.Set(&drd, b2u32(addr4))
	regs.DRD_RBURST.Set(&drd, uint32(rd))
	d.write(regs.DRD_CFG, drd)

	dwr := d.regs.Read(regs.DWR_CFG)
	regs.DWR_ADDSIZ.Set(&dwr, b2u32(addr4))
	regs.DWR_WBURST.Set(&dwr, uint32(wr))
	d.write(regs.DWR_CFG, dwr)
	for cs := range d.addr4 {
		d.addr4[cs] = addr4
	}
	d.debug("ConfigureDirect",
		slog.String("mode", mode.String()),
		slog.Bool("addr4", addr4),
		slog.Int("rburst", int(rd)),
		slog.Int("wburst", int(wr)),
	)
}

// ConfigureCommand sets the commands of the direct access engine. A zero
// command leaves the corresponding field as is.
func (d *Device) ConfigureCommand(readCmd, writeCmd byte) {
	d.lock()
	defer d.unlock()
	if readCmd != 0 {
		d.writeField(regs.DRD_RDCMD, uint32(readCmd))
	}
	if writeCmd != 0 {
		d.writeField(regs.DWR_WRCMD, uint32(writeCmd))
	}
}

// ReadMode returns the read mode currently programmed in hardware.
func (d *Device) ReadMode() ReadMode {
	d.lock()
	defer d.unlock()
	return d.readMode()
}

func (d *Device) readMode() ReadMode {
	drd := d.regs.Read(regs.DRD_CFG)
	return readModeFromFields(regs.DRD_ACCTYPE.Get(drd), regs.DRD_DBW.Get(drd))
}

// SetDummyCycles sets the number of dummy clocks of direct reads. The hardware
// counts dummy bytes so cycles must be a multiple of 8, at most 24.
func (d *Device) SetDummyCycles(cycles int) {
	if cycles < 0 || cycles%8 != 0 || cycles > 8*int(regs.DRD_DBW.Max()) {
		panic("fiu: bad argument to SetDummyCycles: " + strconv.Itoa(cycles))
	}
	d.lock()
	defer d.unlock()
	d.writeField(regs.DRD_DBW, uint32(cycles/8))
}
