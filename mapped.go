package fiu

// ReadMapped copies flash contents of device starting at offset into dst
// through the direct-mapped window. The direct access engine must have been
// configured with ConfigureDirect.
func (d *Device) ReadMapped(device int, offset uint32, dst []byte) error {
	d.checkDevice(device)
	if uint64(offset)+uint64(len(dst)) > uint64(d.flashSize[device]) {
		return ErrOutOfFlash
	}
	if d.window == 0 {
		panic("fiu: bad argument to ReadMapped: instance has no direct map window")
	}
	d.lock()
	defer d.unlock()
	base := d.windowOf(device)
	bus := d.regs.Bus
	end := offset + uint32(len(dst))
	for addr := aligndown(offset, 4); addr < end; addr += 4 {
		var w [4]byte
		getWord(w[:], bus.Read32(base+uintptr(addr)))
		lo := max(addr, offset)
		hi := min(addr+4, end)
		copy(dst[lo-offset:hi-offset], w[lo-addr:hi-addr])
	}
	return nil
}

// Window returns the base address of the direct-mapped window of device.
func (d *Device) Window(device int) uintptr {
	d.checkDevice(device)
	return d.windowOf(device)
}

func (d *Device) windowOf(device int) uintptr {
	return d.window + uintptr(device)*uintptr(d.chip.WindowStride)
}
