// Package sim is an in-memory stand-in for the timer/DMA hardware. It records
// every transfer and lets the caller decide when each one completes or fails.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreman2200/funtimes-ws2812/internal/pwm"
)

type Kind string

const (
	KindStart    Kind = "start"
	KindStop     Kind = "stop"
	KindComplete Kind = "complete"
	KindFail     Kind = "fail"
)

// Event is one recorded hardware interaction. Codes is a copy taken when the
// transfer started.
type Event struct {
	Seq     int
	Kind    Kind
	Channel pwm.Channel
	Codes   []uint16
	Err     error
}

type transfer struct {
	ref  []uint16
	snap []uint16
	gen  uint64
}

// Hardware implements pwm.PWM.
type Hardware struct {
	mu        sync.Mutex
	cb        pwm.CompleteFunc
	known     map[pwm.Channel]bool
	inflight  map[pwm.Channel]*transfer
	gen       map[pwm.Channel]uint64
	startErr  map[pwm.Channel]error
	events    []Event
	seq       int
	corrupted int
	bitPeriod time.Duration
}

// New returns a harness for the given channels; with none, any channel is accepted.
func New(chs ...pwm.Channel) *Hardware {
	h := &Hardware{
		known:    map[pwm.Channel]bool{},
		inflight: map[pwm.Channel]*transfer{},
		gen:      map[pwm.Channel]uint64{},
		startErr: map[pwm.Channel]error{},
	}
	for _, c := range chs {
		h.known[c] = true
	}
	return h
}

// AutoComplete makes every transfer complete on its own after
// len(codes)*bitPeriod. Zero disables it.
func (h *Hardware) AutoComplete(bitPeriod time.Duration) {
	h.mu.Lock()
	h.bitPeriod = bitPeriod
	h.mu.Unlock()
}

// FailNextStart makes the next Start on ch return err.
func (h *Hardware) FailNextStart(ch pwm.Channel, err error) {
	h.mu.Lock()
	h.startErr[ch] = err
	h.mu.Unlock()
}

func (h *Hardware) OnComplete(f pwm.CompleteFunc) {
	h.mu.Lock()
	h.cb = f
	h.mu.Unlock()
}

func (h *Hardware) Start(ch pwm.Channel, codes []uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.known) > 0 && !h.known[ch] {
		return fmt.Errorf("%w: %s", pwm.ErrUnknownChannel, ch)
	}
	if err, ok := h.startErr[ch]; ok {
		delete(h.startErr, ch)
		return err
	}
	if _, busy := h.inflight[ch]; busy {
		return fmt.Errorf("%w: %s", pwm.ErrBusy, ch)
	}
	snap := append([]uint16{}, codes...)
	h.gen[ch]++
	tr := &transfer{ref: codes, snap: snap, gen: h.gen[ch]}
	h.inflight[ch] = tr
	h.record(Event{Kind: KindStart, Channel: ch, Codes: snap})

	if h.bitPeriod > 0 {
		d := time.Duration(len(codes)) * h.bitPeriod
		gen := tr.gen
		time.AfterFunc(d, func() { h.finish(ch, gen, nil) })
	}
	return nil
}

func (h *Hardware) Stop(ch pwm.Channel) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, running := h.inflight[ch]
	delete(h.inflight, ch)
	h.gen[ch]++
	h.record(Event{Kind: KindStop, Channel: ch})
	if !running {
		return fmt.Errorf("%w: %s", pwm.ErrIdle, ch)
	}
	return nil
}

// Complete signals transfer-complete for ch.
func (h *Hardware) Complete(ch pwm.Channel) error {
	return h.finish(ch, 0, nil)
}

// CompleteLater ends the transfer on ch as Complete does but holds the
// notification back until deliver is called, like an interrupt that is
// pending while the CPU is busy elsewhere.
func (h *Hardware) CompleteLater(ch pwm.Channel) (deliver func(), err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tr, ok := h.inflight[ch]
	if !ok {
		return nil, fmt.Errorf("sim: nothing in flight on %s", ch)
	}
	delete(h.inflight, ch)
	if !equal(tr.ref, tr.snap) {
		h.corrupted++
	}
	h.record(Event{Kind: KindComplete, Channel: ch})
	cb := h.cb
	return func() {
		if cb != nil {
			cb(ch, nil)
		}
	}, nil
}

// Fail signals a transfer error for ch.
func (h *Hardware) Fail(ch pwm.Channel, err error) error {
	if err == nil {
		err = fmt.Errorf("sim: transfer error on %s", ch)
	}
	return h.finish(ch, 0, err)
}

// finish ends the transfer on ch. gen == 0 matches whatever is in flight.
func (h *Hardware) finish(ch pwm.Channel, gen uint64, err error) error {
	h.mu.Lock()
	tr, ok := h.inflight[ch]
	if !ok || (gen != 0 && tr.gen != gen) {
		h.mu.Unlock()
		return fmt.Errorf("sim: nothing in flight on %s", ch)
	}
	delete(h.inflight, ch)
	if !equal(tr.ref, tr.snap) {
		h.corrupted++
	}
	kind := KindComplete
	if err != nil {
		kind = KindFail
	}
	h.record(Event{Kind: kind, Channel: ch, Err: err})
	cb := h.cb
	h.mu.Unlock()

	if cb != nil {
		cb(ch, err)
	}
	return nil
}

// InFlight returns the codes of the transfer running on ch.
func (h *Hardware) InFlight(ch pwm.Channel) ([]uint16, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tr, ok := h.inflight[ch]
	if !ok {
		return nil, false
	}
	return append([]uint16{}, tr.ref...), true
}

// Busy reports whether any channel has a transfer in flight.
func (h *Hardware) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight) > 0
}

// Corrupted counts transfers whose buffer changed between start and completion.
func (h *Hardware) Corrupted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.corrupted
}

// Events returns a copy of the event log.
func (h *Hardware) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event{}, h.events...)
}

// Starts returns the start events recorded for ch.
func (h *Hardware) Starts(ch pwm.Channel) []Event {
	var out []Event
	for _, e := range h.Events() {
		if e.Kind == KindStart && e.Channel == ch {
			out = append(out, e)
		}
	}
	return out
}

func (h *Hardware) record(e Event) {
	h.seq++
	e.Seq = h.seq
	h.events = append(h.events, e)
}

func equal(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ pwm.PWM = &Hardware{}
