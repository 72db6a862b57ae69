package battery

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// ErrUnavailable is returned when no battery controller is present.
var ErrUnavailable = errors.New("battery: unavailable")

// Status is the battery level shown in the dashboard header.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, 0 if unknown.
	VoltageMv int `json:"voltage_mv"`
}

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// PiSugar registers: 0x22/0x23 voltage (mV, big endian), 0x2A percent.
const (
	DefaultAddr = 0x57

	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// I2CReader reads a PiSugar-style controller over I2C.
type I2CReader struct {
	BusName string // "" selects the default bus
	Addr    uint16
}

func (r I2CReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, ErrUnavailable
	}
	if _, err := host.Init(); err != nil {
		return Status{}, err
	}

	bus, err := i2creg.Open(r.BusName)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.Addr}
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// noneReader is used when no controller answers.
type noneReader struct{}

func (noneReader) Read(context.Context) (Status, error) {
	return Status{}, ErrUnavailable
}

// DefaultReader probes the PiSugar address once and returns an I2CReader if
// it answers, or a reader that always reports ErrUnavailable.
func DefaultReader() Reader {
	r := I2CReader{Addr: DefaultAddr}
	if _, err := r.Read(context.Background()); err != nil {
		return noneReader{}
	}
	return r
}

// Cached wraps a Reader and reuses the last successful status for ttl.
type Cached struct {
	reader Reader
	ttl    time.Duration

	mu        sync.Mutex
	status    Status
	updatedAt time.Time
}

func NewCached(r Reader, ttl time.Duration) *Cached {
	return &Cached{reader: r, ttl: ttl}
}

func (c *Cached) Read(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.updatedAt.IsZero() && time.Since(c.updatedAt) < c.ttl {
		return c.status, nil
	}
	st, err := c.reader.Read(ctx)
	if err != nil {
		return Status{}, err
	}
	c.status = st
	c.updatedAt = time.Now()
	return st, nil
}
