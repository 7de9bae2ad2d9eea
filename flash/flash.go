// Package flash implements byte addressed access to a SPI-NOR flash attached
// to an FIU chip select. Reads go through UMA fast reads or the direct-mapped
// window; writes are split on page boundaries and wait for the flash to finish
// programming.
package flash

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/exp/constraints"

	"github.com/soypat/fiu"
)

// SPI-NOR commands issued by Flash.
const (
	cmdPageProgram = 0x02
	cmdReadStatus  = 0x05
	cmdWriteEnable = 0x06
	cmdFastRead    = 0x0B
	cmdSectorErase = 0x20
	cmdJEDECID     = 0x9F
)

const (
	statusWIP = 1 << 0
	statusWEL = 1 << 1
)

// SectorSize is the erase unit of EraseSector.
const SectorSize = 4096

var (
	errNegativeOffset = errors.New("flash: negative offset")
	errNoWriteEnable  = errors.New("flash: write enable not latched")
	errOutOfRange     = errors.New("flash: write beyond end of flash")
)

// Config configures a Flash.
type Config struct {
	// Timeout bounds each UMA transaction.
	Timeout time.Duration
	// Mapped reads through the direct-mapped window instead of UMA.
	Mapped bool
	// Retries is the number of times a timed out operation is reissued.
	Retries int
	// MinBackoff and MaxBackoff bound the delay between retries and between
	// status polls while the flash is busy.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Millisecond,
		Retries:    3,
		MinBackoff: 10 * time.Microsecond,
		MaxBackoff: 10 * time.Millisecond,
	}
}

// Flash is the flash on chip select cs of an FIU instance. It implements
// io.ReaderAt and io.WriterAt.
type Flash struct {
	dev     *fiu.Device
	cs      int
	cfg     Config
	backoff backoff.Backoff
}

var (
	_ io.ReaderAt = (*Flash)(nil)
	_ io.WriterAt = (*Flash)(nil)
)

// New returns the flash on chip select cs of dev. Its size is taken from the
// device configuration.
func New(dev *fiu.Device, cs int, cfg Config) *Flash {
	if cs < 0 || cs >= dev.Devices() {
		panic("flash: bad argument to New: chip select")
	}
	return &Flash{
		dev: dev,
		cs:  cs,
		cfg: cfg,
		backoff: backoff.Backoff{
			Min:    cfg.MinBackoff,
			Max:    cfg.MaxBackoff,
			Factor: 2,
		},
	}
}

// Size returns the flash size in bytes.
func (f *Flash) Size() int64 { return int64(f.dev.FlashSize(f.cs)) }

// ID reads the JEDEC manufacturer and device identification.
func (f *Flash) ID() (id [3]byte, err error) {
	err = f.retry(func() error {
		return f.dev.UMARead(f.cs, cmdJEDECID, 0, fiu.AddrNone, id[:], f.cfg.Timeout)
	})
	return id, err
}

// Status reads the flash status register.
func (f *Flash) Status() (byte, error) {
	var buf [1]byte
	err := f.retry(func() error {
		return f.dev.UMARead(f.cs, cmdReadStatus, 0, fiu.AddrNone, buf[:], f.cfg.Timeout)
	})
	return buf[0], err
}

// WaitIdle polls the status register until no write is in progress.
func (f *Flash) WaitIdle(ctx context.Context) error {
	f.backoff.Reset()
	for {
		st, err := f.Status()
		if err != nil {
			return err
		}
		if st&statusWIP == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.backoff.Duration()):
		}
	}
}

// ReadAt reads len(p) bytes at off. Reads past the end of flash return io.EOF.
func (f *Flash) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	size := f.Size()
	if off >= size {
		return 0, io.EOF
	}
	want := len(p)
	p = p[:min(int64(len(p)), size-off)]
	if f.cfg.Mapped {
		err = f.dev.ReadMapped(f.cs, uint32(off), p)
		if err != nil {
			return 0, err
		}
		n = len(p)
	} else {
		addrSize := 3
		if f.dev.FourByteAddressing(f.cs) {
			addrSize = 4
		}
		for n < len(p) {
			chunk := p[n:min(len(p), n+fiu.PageSize)]
			tr := fiu.Transfer{
				Device:    f.cs,
				Cmd:       cmdFastRead,
				Addr:      uint32(off) + uint32(n),
				AddrSize:  addrSize,
				Dummy:     1,
				Read:      chunk,
				CmdBits:   fiu.Single,
				AddrBits:  fiu.Single,
				WriteBits: fiu.Single,
				ReadBits:  fiu.Single,
			}
			err = f.retry(func() error { return f.dev.Ioctl(&tr, f.cfg.Timeout) })
			if err != nil {
				return n, err
			}
			n += len(chunk)
		}
	}
	if n < want {
		err = io.EOF
	}
	return n, err
}

// WriteAt programs p at off, one page at a time. The target area must have
// been erased.
func (f *Flash) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errNegativeOffset
	}
	if off+int64(len(p)) > f.Size() {
		return 0, errOutOfRange
	}
	ctx := context.Background()
	for n < len(p) {
		addr := uint32(off) + uint32(n)
		end := min(align(addr+1, fiu.PageSize), uint32(off)+uint32(len(p)))
		chunk := p[n : n+int(end-addr)]
		err = f.writeEnable()
		if err != nil {
			return n, err
		}
		err = f.retry(func() error {
			return f.dev.PageWrite(f.cs, cmdPageProgram, addr, chunk, f.cfg.Timeout)
		})
		if err != nil {
			return n, err
		}
		err = f.WaitIdle(ctx)
		if err != nil {
			return n, err
		}
		n += len(chunk)
	}
	return n, nil
}

// EraseSector erases the SectorSize sector holding off.
func (f *Flash) EraseSector(off int64) error {
	if off < 0 || off >= f.Size() {
		return errOutOfRange
	}
	addr := aligndown(uint32(off), SectorSize)
	err := f.writeEnable()
	if err != nil {
		return err
	}
	err = f.retry(func() error {
		return f.dev.UMAWrite(f.cs, cmdSectorErase, addr, fiu.AddrAuto, nil, f.cfg.Timeout)
	})
	if err != nil {
		return err
	}
	return f.WaitIdle(context.Background())
}

func (f *Flash) writeEnable() error {
	err := f.retry(func() error {
		return f.dev.UMAWrite(f.cs, cmdWriteEnable, 0, fiu.AddrNone, nil, f.cfg.Timeout)
	})
	if err != nil {
		return err
	}
	st, err := f.Status()
	if err != nil {
		return err
	}
	if st&statusWEL == 0 {
		return errNoWriteEnable
	}
	return nil
}

// retry reissues op while it times out, up to the configured retry count.
func (f *Flash) retry(op func() error) (err error) {
	b := backoff.Backoff{Min: f.backoff.Min, Max: f.backoff.Max, Factor: f.backoff.Factor}
	for {
		err = op()
		if !errors.Is(err, fiu.ErrTimeout) || int(b.Attempt()) >= f.cfg.Retries {
			return err
		}
		d := b.Duration()
		if f.cfg.Logger != nil {
			f.cfg.Logger.Warn("flash:retry", slog.Int("cs", f.cs), slog.Float64("attempt", b.Attempt()), slog.Duration("wait", d))
		}
		time.Sleep(d)
	}
}

// align rounds `val` up to nearest multiple of `align`.
func align[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

// aligndown rounds `val` down to nearest multiple of `align`.
func aligndown[T constraints.Unsigned](val, align T) T {
	return val &^ (align - 1)
}
