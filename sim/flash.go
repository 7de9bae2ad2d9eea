package sim

// SPI-NOR commands understood by Flash.
const (
	CmdWriteStatus  = 0x01
	CmdPageProgram  = 0x02
	CmdRead         = 0x03
	CmdWriteDisable = 0x04
	CmdReadStatus   = 0x05
	CmdWriteEnable  = 0x06
	CmdFastRead     = 0x0B
	CmdSectorErase  = 0x20
	CmdJEDECID      = 0x9F
	CmdEnter4Byte   = 0xB7
	CmdExit4Byte    = 0xE9
)

// Status register bits.
const (
	StatusWIP = 1 << 0
	StatusWEL = 1 << 1
)

const (
	pageSize   = 256
	sectorSize = 4096
)

// Flash is a SPI-NOR flash model. Program and erase take effect when chip
// select is released and require a prior write enable.
type Flash struct {
	Data []byte
	ID   [3]byte
	// Addr4 is set by the enter 4 byte address mode command.
	Addr4 bool
	// BusyReads is the number of status reads reporting write in progress
	// after a program or erase.
	BusyReads int
	// Programs counts completed page programs.
	Programs int

	status  byte
	busy    int
	cmd     byte
	active  bool
	addr    uint32
	pos     int
	pending []byte
}

// NewFlash returns an erased flash of size bytes with JEDEC identification id.
func NewFlash(size int, id [3]byte) *Flash {
	fl := &Flash{Data: make([]byte, size), ID: id}
	for i := range fl.Data {
		fl.Data[i] = 0xff
	}
	return fl
}

// Status returns the status register without side effects.
func (fl *Flash) Status() byte { return fl.status }

// Start opens a frame with command cmd, if any, and address addr.
func (fl *Flash) Start(cmd byte, hasCmd bool, addr uint32) {
	fl.active = hasCmd
	fl.cmd = cmd
	fl.addr = addr
	fl.pos = 0
	fl.pending = fl.pending[:0]
	if !hasCmd {
		return
	}
	switch cmd {
	case CmdWriteEnable:
		fl.status |= StatusWEL
	case CmdWriteDisable:
		fl.status &^= StatusWEL
	case CmdEnter4Byte:
		fl.Addr4 = true
	case CmdExit4Byte:
		fl.Addr4 = false
	}
}

// Write clocks p into the open frame.
func (fl *Flash) Write(p []byte) {
	if !fl.active {
		return
	}
	switch fl.cmd {
	case CmdPageProgram:
		fl.pending = append(fl.pending, p...)
	case CmdWriteStatus:
		if len(p) > 0 && fl.status&StatusWEL != 0 {
			fl.status = fl.status&(StatusWIP|StatusWEL) | p[0]&^(StatusWIP|StatusWEL)
		}
	}
}

// Read clocks len(p) bytes out of the open frame.
func (fl *Flash) Read(p []byte) {
	for i := range p {
		p[i] = fl.next()
	}
}

func (fl *Flash) next() (b byte) {
	b = 0xff
	if !fl.active {
		return b
	}
	switch fl.cmd {
	case CmdJEDECID:
		if fl.pos < len(fl.ID) {
			b = fl.ID[fl.pos]
		}
	case CmdReadStatus:
		b = fl.status
		if fl.busy > 0 {
			fl.busy--
			if fl.busy == 0 {
				fl.status &^= StatusWIP
			}
		}
	case CmdRead, CmdFastRead:
		if len(fl.Data) > 0 {
			b = fl.Data[(int(fl.addr)+fl.pos)%len(fl.Data)]
		}
	}
	fl.pos++
	return b
}

// End closes the frame, committing programs and erases.
func (fl *Flash) End() {
	if !fl.active {
		return
	}
	fl.active = false
	if fl.status&StatusWEL == 0 {
		return
	}
	switch fl.cmd {
	case CmdPageProgram:
		if len(fl.pending) == 0 {
			return
		}
		page := int(fl.addr) &^ (pageSize - 1)
		for i, b := range fl.pending {
			a := page + (int(fl.addr)+i)%pageSize
			if a < len(fl.Data) {
				fl.Data[a] &= b
			}
		}
		fl.Programs++
	case CmdSectorErase:
		sector := int(fl.addr) &^ (sectorSize - 1)
		for a := sector; a < sector+sectorSize && a < len(fl.Data); a++ {
			fl.Data[a] = 0xff
		}
	default:
		return
	}
	fl.status &^= StatusWEL
	if fl.BusyReads > 0 {
		fl.status |= StatusWIP
		fl.busy = fl.BusyReads
	}
}
