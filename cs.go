package fiu

import (
	"log/slog"

	"github.com/soypat/fiu/regs"
)

// SelectChip selects the chip select targeted by following UMA transactions.
// No transaction is issued.
func (d *Device) SelectChip(device int) {
	d.checkDevice(device)
	d.lock()
	defer d.unlock()
	d.selectChip(device)
}

func (d *Device) selectChip(device int) {
	d.writeField(regs.CTS_DEV_NUM, uint32(device))
}

// SetChipSelect drives the software chip select of the selected device.
func (d *Device) SetChipSelect(asserted bool) {
	d.lock()
	defer d.unlock()
	d.setCS(asserted)
}

func (d *Device) setCS(asserted bool) {
	// SW_CS is active low.
	d.writeField(regs.CTS_SW_CS, b2u32(!asserted))
}

// SetFourByteAddressing sets the address width of device. Both direct read and
// write address sizes are written since the hardware expects them to agree.
func (d *Device) SetFourByteAddressing(device int, enabled bool) {
	d.checkDevice(device)
	d.lock()
	defer d.unlock()
	d.addr4[device] = enabled
	d.writeField(regs.DRD_ADDSIZ, b2u32(enabled))
	d.writeField(regs.DWR_ADDSIZ, b2u32(enabled))
	d.debug("SetFourByteAddressing", slog.Int("cs", device), slog.Bool("enabled", enabled))
}

// FourByteAddressing reports whether 4 byte addressing is programmed. Only the
// direct read address size is consulted.
func (d *Device) FourByteAddressing(device int) bool {
	d.checkDevice(device)
	d.lock()
	defer d.unlock()
	return d.regs.ReadField(regs.DRD_ADDSIZ) != 0
}

// SelectChipByAddress selects device and asserts its chip select when addr
// falls inside its configured flash size, releasing it otherwise.
func (d *Device) SelectChipByAddress(device int, addr uint32) {
	d.checkDevice(device)
	d.lock()
	defer d.unlock()
	d.selectChip(device)
	d.setCS(addr < d.flashSize[device])
}
