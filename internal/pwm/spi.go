package pwm

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/spi"

	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

// Each WS2812 symbol is shipped as 3 SPI bits clocked at 3x the bit rate.
const (
	spiBitsPerSymbol = 3
	spiSymbolOne     = 0b110
	spiSymbolZero    = 0b100
	spiSymbolReset   = 0b000
)

// SPI emulates the timer/DMA primitive on SPI ports, one port per channel.
// A code at or above the Code0/Code1 midpoint becomes a long high, any other
// non-zero code a short high, and CodeReset holds the line low.
type SPI struct {
	mu    sync.Mutex
	txEnd *sync.Cond // signalled on s.mu whenever a Tx returns
	lines map[Channel]*spiLine
	cb    CompleteFunc
	mid   uint16
	log   zerolog.Logger
	wg    sync.WaitGroup
}

type spiLine struct {
	ch     Channel
	conn   spi.Conn
	closer io.Closer
	work   chan spiJob
	busy   bool
	// running is set while the worker reads a job's codes or has it on the wire.
	running bool
	gen     uint64
	closed  bool
}

type spiJob struct {
	gen   uint64
	codes []uint16
}

// NewSPI connects every port at three times the timing's bit rate.
func NewSPI(ports map[Channel]spi.Port, t ws2812.Timing, log zerolog.Logger) (*SPI, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	s := &SPI{
		lines: map[Channel]*spiLine{},
		mid:   t.Code0 + (t.Code1-t.Code0+1)/2,
		log:   log.With().Str("component", "pwm.spi").Logger(),
	}
	s.txEnd = sync.NewCond(&s.mu)
	freq := t.BitRate() * spiBitsPerSymbol
	for ch, p := range ports {
		c, err := p.Connect(freq, spi.Mode0, 8)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("spi connect %s (%s): %w", ch, p, err)
		}
		l := &spiLine{ch: ch, conn: c, work: make(chan spiJob, 1)}
		if cl, ok := p.(io.Closer); ok {
			l.closer = cl
		}
		s.lines[ch] = l
		s.wg.Add(1)
		go s.run(l)
		s.log.Debug().Stringer("channel", ch).Str("port", p.String()).Str("freq", freq.String()).Msg("connected")
	}
	return s, nil
}

// OnComplete implements PWM.
func (s *SPI) OnComplete(f CompleteFunc) {
	s.mu.Lock()
	s.cb = f
	s.mu.Unlock()
}

// Start implements PWM. The transfer runs on the channel's worker goroutine.
func (s *SPI) Start(ch Channel, codes []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[ch]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	case l.closed:
		return ErrClosed
	case l.busy:
		return fmt.Errorf("%w: %s", ErrBusy, ch)
	}
	job := spiJob{gen: l.gen + 1, codes: codes}
	select {
	case l.work <- job:
	default:
		return fmt.Errorf("%w: %s", ErrBusy, ch)
	}
	l.busy = true
	l.gen = job.gen
	return nil
}

// Stop implements PWM. A queued job is discarded; a Tx already on the wire
// cannot be cut short, so Stop waits for it to return and then suppresses
// its completion.
func (s *SPI) Stop(ch Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[ch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	if !l.closed {
		select {
		case <-l.work:
		default:
		}
	}
	wasBusy := l.busy
	l.busy = false
	l.gen++
	for l.running {
		s.txEnd.Wait()
	}
	if !wasBusy {
		return fmt.Errorf("%w: %s", ErrIdle, ch)
	}
	return nil
}

// Close stops the workers and closes ports that support it.
func (s *SPI) Close() error {
	s.mu.Lock()
	var closers []io.Closer
	for _, l := range s.lines {
		if l.closed {
			continue
		}
		l.closed = true
		close(l.work)
		if l.closer != nil {
			closers = append(closers, l.closer)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()

	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *SPI) run(l *spiLine) {
	defer s.wg.Done()
	var out []byte
	for job := range l.work {
		s.mu.Lock()
		if job.gen != l.gen || !l.busy {
			s.mu.Unlock()
			continue
		}
		l.running = true
		s.mu.Unlock()

		out = s.expand(out[:0], job.codes)
		err := l.conn.Tx(out, nil)
		if err != nil {
			err = fmt.Errorf("spi tx %s: %w", l.ch, err)
		}

		s.mu.Lock()
		l.running = false
		current := job.gen == l.gen && l.busy
		if current {
			l.busy = false
		}
		cb := s.cb
		s.txEnd.Broadcast()
		s.mu.Unlock()

		if !current {
			s.log.Debug().Stringer("channel", l.ch).Msg("dropping completion of stopped transfer")
			continue
		}
		if cb != nil {
			cb(l.ch, err)
		}
	}
}

// expand packs 3 SPI bits per code, MSB first, padding the last byte low.
func (s *SPI) expand(dst []byte, codes []uint16) []byte {
	var acc uint32
	var n uint
	for _, c := range codes {
		sym := uint32(spiSymbolZero)
		switch {
		case c == ws2812.CodeReset:
			sym = spiSymbolReset
		case c >= s.mid:
			sym = spiSymbolOne
		}
		acc = acc<<spiBitsPerSymbol | sym
		n += spiBitsPerSymbol
		for n >= 8 {
			n -= 8
			dst = append(dst, byte(acc>>n))
		}
	}
	if n > 0 {
		dst = append(dst, byte(acc<<(8-n)))
	}
	return dst
}

var _ PWM = &SPI{}
