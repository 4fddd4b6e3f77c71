// Package pwm describes the timer/DMA primitive that clocks compare values
// out of a PWM channel, and provides implementations of it.
package pwm

import (
	"errors"
	"fmt"
)

// Channel is a timer output channel.
type Channel uint8

// Output channels of the timer wired to the LED lines.
const (
	Channel1 Channel = iota + 1
	Channel2
	Channel3
	Channel4
)

func (c Channel) String() string {
	return fmt.Sprintf("CH%d", uint8(c))
}

// CompleteFunc receives a transfer-complete (err == nil) or transfer-error
// notification for one channel.
type CompleteFunc func(ch Channel, err error)

// PWM schedules compare values on a timer channel, one per bit period.
//
// Start must return before the transfer completes and must never call the
// completion callback itself; notifications arrive later from interrupt
// context or another goroutine. The codes slice is referenced until the
// channel's completion is signalled or Stop returns.
//
// Stop aborts the transfer on ch. Once it returns the hardware no longer
// reads the codes and the aborted transfer is never reported. ErrIdle means
// nothing was running: a completion already signalled for ch may still be
// on its way to the callback.
type PWM interface {
	Start(ch Channel, codes []uint16) error
	Stop(ch Channel) error
	OnComplete(f CompleteFunc)
}

var (
	ErrBusy           = errors.New("pwm: channel busy")
	ErrUnknownChannel = errors.New("pwm: unknown channel")
	ErrClosed         = errors.New("pwm: closed")
	ErrIdle           = errors.New("pwm: nothing in flight")
)
