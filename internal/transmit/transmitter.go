package transmit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coreman2200/funtimes-ws2812/internal/pwm"
	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

// State of the transmission sequence.
type State int

const (
	Idle State = iota
	SendingData
	SendingReset
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SendingData:
		return "sending-data"
	case SendingReset:
		return "sending-reset"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrLineCount = errors.New("transmit: wrong number of chains")
	ErrClosed    = errors.New("transmit: closed")
	ErrBusy      = errors.New("transmit: transfer in flight")
	ErrNoLines   = errors.New("transmit: no lines configured")
)

// TransmitError reports a hardware failure. The frame it interrupted is
// abandoned; sending a new frame starts over from the first bit.
type TransmitError struct {
	Channel pwm.Channel
	State   State
	Err     error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("transmit: %s failed while %s: %v", e.Channel, e.State, e.Err)
}

func (e *TransmitError) Unwrap() error { return e.Err }

// Line is one LED chain wired to a timer channel.
type Line struct {
	Channel pwm.Channel
	// Length is the number of LEDs on the line; 0 accepts any length.
	Length int
}

type Options struct {
	Lines  []Line
	Order  ws2812.ChannelOrder
	Timing ws2812.Timing
	// Log defaults to a no-op logger.
	Log *zerolog.Logger
}

// Stats counts what the transmitter has done since it was created.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Resets  uint64 `json:"resets"`
	Dropped uint64 `json:"dropped"`
	Errors  uint64 `json:"errors"`
}

// Transmitter sequences frames onto all lines in parallel: pulse data, then
// the reset latch, then Idle. Transitions happen on the hardware's completion
// callbacks; Transmit never waits for them.
//
// Each line has a front buffer, referenced by the hardware while a frame is
// in flight, and a back buffer that holds the next frame. A frame submitted
// while busy is encoded into the back buffer and replaces any frame already
// waiting there. After a failure the next frame is preceded by a reset so the
// LEDs latch nothing from the aborted one.
type Transmitter struct {
	mu    sync.Mutex
	hw    pwm.PWM
	enc   ws2812.Encoder
	lines []Line
	reset ws2812.PulseBuffer

	state   State
	front   []ws2812.PulseBuffer
	back    []ws2812.PulseBuffer
	pending bool
	waiting map[pwm.Channel]bool
	// late counts completions of aborted transfers that are still to arrive.
	late  map[pwm.Channel]int
	latch bool

	idle       chan struct{}
	idleClosed bool
	errs       chan error
	last       error
	stats      Stats
	closed     bool
	inCallback bool

	log zerolog.Logger
}

// New wires a transmitter to hw and registers its completion callback.
func New(hw pwm.PWM, opts Options) (*Transmitter, error) {
	if len(opts.Lines) == 0 {
		return nil, ErrNoLines
	}
	if err := opts.Timing.Validate(); err != nil {
		return nil, err
	}
	seen := map[pwm.Channel]bool{}
	for _, l := range opts.Lines {
		if seen[l.Channel] {
			return nil, fmt.Errorf("transmit: channel %s used twice", l.Channel)
		}
		if l.Length < 0 {
			return nil, fmt.Errorf("transmit: negative length on %s", l.Channel)
		}
		seen[l.Channel] = true
	}

	log := zerolog.Nop()
	if opts.Log != nil {
		log = *opts.Log
	}
	t := &Transmitter{
		hw:    hw,
		enc:   ws2812.NewEncoder(opts.Order, opts.Timing),
		lines: append([]Line{}, opts.Lines...),
		reset: opts.Timing.ResetBuffer(),
		front: make([]ws2812.PulseBuffer, len(opts.Lines)),
		back:  make([]ws2812.PulseBuffer, len(opts.Lines)),
		late:  map[pwm.Channel]int{},
		idle:  make(chan struct{}),
		errs:  make(chan error, 1),
		log:   log.With().Str("component", "transmit").Logger(),
	}
	for i, l := range t.lines {
		if l.Length > 0 {
			t.front[i] = make(ws2812.PulseBuffer, 0, l.Length*ws2812.BitsPerPixel)
			t.back[i] = make(ws2812.PulseBuffer, 0, l.Length*ws2812.BitsPerPixel)
		}
	}
	t.enterIdle()
	hw.OnComplete(t.complete)
	return t, nil
}

// Lines returns the configured lines.
func (t *Transmitter) Lines() []Line {
	return append([]Line{}, t.lines...)
}

// Transmit sends one chain per line, in line order. It returns once the
// transfer has been started or queued.
func (t *Transmitter) Transmit(chains ...ws2812.Chain) error {
	if len(chains) != len(t.lines) {
		return fmt.Errorf("%w: got %d, want %d", ErrLineCount, len(chains), len(t.lines))
	}
	for i, c := range chains {
		if err := ws2812.CheckLength(c, t.lines[i].Length); err != nil {
			return fmt.Errorf("line %s: %w", t.lines[i].Channel, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.state != Idle {
		t.encode(t.back, chains)
		if t.pending {
			t.stats.Dropped++
		}
		t.pending = true
		t.log.Debug().Stringer("state", t.state).Msg("frame queued")
		return nil
	}
	if t.latch {
		t.encode(t.back, chains)
		t.pending = true
		return t.startReset()
	}
	t.encode(t.front, chains)
	return t.startData()
}

func (t *Transmitter) encode(dst []ws2812.PulseBuffer, chains []ws2812.Chain) {
	for i, c := range chains {
		dst[i] = t.enc.EncodeInto(dst[i], c)
	}
}

// startData starts the front buffers on every line. Must hold t.mu.
func (t *Transmitter) startData() error {
	t.leaveIdle()
	t.state = SendingData
	t.waiting = map[pwm.Channel]bool{}
	for i, l := range t.lines {
		if len(t.front[i]) == 0 {
			continue
		}
		if err := t.hw.Start(l.Channel, t.front[i]); err != nil {
			terr := &TransmitError{Channel: l.Channel, State: SendingData, Err: err}
			t.fail(terr, t.inCallback)
			return terr
		}
		t.waiting[l.Channel] = true
	}
	t.stats.Frames++
	t.log.Debug().Int("lines", len(t.waiting)).Msg("data started")
	if len(t.waiting) == 0 {
		return t.startReset()
	}
	return nil
}

// startReset starts the shared latch buffer on every line. Must hold t.mu.
func (t *Transmitter) startReset() error {
	t.leaveIdle()
	t.state = SendingReset
	t.waiting = map[pwm.Channel]bool{}
	for _, l := range t.lines {
		if err := t.hw.Start(l.Channel, t.reset); err != nil {
			terr := &TransmitError{Channel: l.Channel, State: SendingReset, Err: err}
			t.fail(terr, t.inCallback)
			return terr
		}
		t.waiting[l.Channel] = true
	}
	t.stats.Resets++
	t.latch = false
	t.log.Debug().Int("codes", len(t.reset)).Msg("reset started")
	return nil
}

// complete is the hardware completion callback.
func (t *Transmitter) complete(ch pwm.Channel, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inCallback = true
	defer func() { t.inCallback = false }()

	if t.late[ch] > 0 {
		t.late[ch]--
		t.log.Debug().Stringer("channel", ch).AnErr("hw_err", err).Msg("completion of aborted transfer ignored")
		return
	}
	if t.state == Idle {
		t.log.Debug().Stringer("channel", ch).AnErr("hw_err", err).Msg("completion while idle ignored")
		return
	}
	if err != nil {
		delete(t.waiting, ch)
		t.fail(&TransmitError{Channel: ch, State: t.state, Err: err}, true)
		return
	}
	if !t.waiting[ch] {
		t.log.Debug().Stringer("channel", ch).Stringer("state", t.state).Msg("unexpected completion ignored")
		return
	}
	delete(t.waiting, ch)
	if len(t.waiting) > 0 {
		return
	}

	switch t.state {
	case SendingData:
		_ = t.startReset()
	case SendingReset:
		t.state = Idle
		if t.pending {
			t.pending = false
			t.front, t.back = t.back, t.front
			_ = t.startData()
			return
		}
		t.enterIdle()
		t.log.Debug().Msg("idle")
	}
}

// fail stops whatever is still running, drops the queued frame and returns
// to Idle. Errors raised outside Transmit are published on t.errs. Must hold
// t.mu.
func (t *Transmitter) fail(terr *TransmitError, publish bool) {
	for ch := range t.waiting {
		err := t.hw.Stop(ch)
		switch {
		case errors.Is(err, pwm.ErrIdle):
			// Finished before the stop; its completion is still coming.
			t.late[ch]++
		case err != nil:
			t.log.Warn().Err(err).Stringer("channel", ch).Msg("stop failed")
		}
	}
	t.waiting = nil
	t.pending = false
	t.latch = true
	t.state = Idle
	t.stats.Errors++
	t.last = terr
	t.log.Warn().Err(terr.Err).Stringer("channel", terr.Channel).Stringer("state", terr.State).Msg("transfer failed")

	if publish {
		select {
		case t.errs <- terr:
		default:
			select {
			case <-t.errs:
			default:
			}
			select {
			case t.errs <- terr:
			default:
			}
		}
	}
	t.enterIdle()
}

func (t *Transmitter) enterIdle() {
	if !t.idleClosed {
		close(t.idle)
		t.idleClosed = true
	}
}

func (t *Transmitter) leaveIdle() {
	if t.idleClosed {
		t.idle = make(chan struct{})
		t.idleClosed = false
	}
}

// Errors delivers transfer failures that happened after Transmit returned.
// Only the most recent undelivered error is kept.
func (t *Transmitter) Errors() <-chan error {
	return t.errs
}

// LastError returns the most recent TransmitError, or nil.
func (t *Transmitter) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Transmitter) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Pending reports whether a frame is waiting for the current one to finish.
func (t *Transmitter) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *Transmitter) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// DropPending discards the queued frame, if any. The frame in flight is not
// affected.
func (t *Transmitter) DropPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pending {
		return false
	}
	t.pending = false
	t.stats.Dropped++
	return true
}

// Wait blocks until the transmitter is Idle with nothing queued.
func (t *Transmitter) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close refuses further frames. It is only allowed while Idle since an
// in-flight transfer cannot be abandoned safely.
func (t *Transmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Idle {
		return ErrBusy
	}
	t.closed = true
	return nil
}
