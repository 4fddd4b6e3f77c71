package ws2812

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Defaults for TIM3 on the STM32F103 board: 72 MHz timer clock, ARR+1 = 84.
const (
	DefaultClock  physic.Frequency = 72 * physic.MegaHertz
	DefaultPeriod uint16           = 84
	DefaultCode0  uint16           = 25
	DefaultCode1  uint16           = 66
	DefaultReset                   = 50 * time.Microsecond
	CodeReset     uint16           = 0
)

// Timing describes how the timer turns compare values into pulses.
type Timing struct {
	// Clock is the timer counter frequency after prescaling.
	Clock physic.Frequency
	// Period is the number of timer ticks in one bit.
	Period uint16
	// Code0 and Code1 are the compare values for a short and a long high pulse.
	Code0 uint16
	Code1 uint16
	// Reset is the minimum low time that latches a frame.
	Reset time.Duration
}

// DefaultTiming returns the board's configuration.
func DefaultTiming() Timing {
	return Timing{
		Clock:  DefaultClock,
		Period: DefaultPeriod,
		Code0:  DefaultCode0,
		Code1:  DefaultCode1,
		Reset:  DefaultReset,
	}
}

// Validate checks 0 < Code0 < Code1 < Period, a clock of at least 1 Hz, a
// representable bit period and a positive reset.
func (t Timing) Validate() error {
	switch {
	case t.Clock < physic.Hertz:
		return fmt.Errorf("%w: clock %s", ErrTiming, t.Clock)
	case t.Period == 0:
		return fmt.Errorf("%w: zero period", ErrTiming)
	case t.Code0 == 0 || t.Code0 >= t.Code1:
		return fmt.Errorf("%w: code0 %d must be in (0, code1 %d)", ErrTiming, t.Code0, t.Code1)
	case t.Code1 >= t.Period:
		return fmt.Errorf("%w: code1 %d must be below period %d", ErrTiming, t.Code1, t.Period)
	case t.BitPeriod() <= 0:
		return fmt.Errorf("%w: clock %s too fast for a %d tick period", ErrTiming, t.Clock, t.Period)
	case t.Reset <= 0:
		return fmt.Errorf("%w: reset %s", ErrTiming, t.Reset)
	}
	return nil
}

// BitPeriod is the duration of one symbol.
func (t Timing) BitPeriod() time.Duration {
	return time.Duration(int64(t.Period) * int64(time.Second) / int64(t.Clock/physic.Hertz))
}

// BitRate is the symbol rate on the wire.
func (t Timing) BitRate() physic.Frequency {
	return t.Clock / physic.Frequency(t.Period)
}

// ResetCodes is the number of zero symbols covering at least t.Reset.
func (t Timing) ResetCodes() int {
	bp := t.BitPeriod()
	if bp <= 0 {
		return 0
	}
	n := int(t.Reset / bp)
	if time.Duration(n)*bp < t.Reset {
		n++
	}
	return n
}

// ResetBuffer builds the immutable latch sequence for this timing.
func (t Timing) ResetBuffer() PulseBuffer {
	buf := make(PulseBuffer, t.ResetCodes())
	for i := range buf {
		buf[i] = CodeReset
	}
	return buf
}

// Duration is how long n symbols take on the wire.
func (t Timing) Duration(n int) time.Duration {
	return time.Duration(n) * t.BitPeriod()
}
