package ws2812

import "fmt"

// PulseBuffer is the compare-value waveform fed to the timer by DMA, one
// value per bit period.
type PulseBuffer []uint16

// Encoder turns pixel chains into pulse buffers. It holds no state besides
// its configuration and is safe for concurrent use.
type Encoder struct {
	Order ChannelOrder
	Code0 uint16
	Code1 uint16
}

// NewEncoder builds an encoder from a channel order and the timing's codes.
func NewEncoder(order ChannelOrder, t Timing) Encoder {
	if order == (ChannelOrder{}) {
		order = GRB
	}
	return Encoder{Order: order, Code0: t.Code0, Code1: t.Code1}
}

// Encode returns 24 codes per pixel: channels in e.Order, bits MSB first.
func (e Encoder) Encode(chain Chain) PulseBuffer {
	return e.EncodeInto(nil, chain)
}

// EncodeInto is Encode reusing dst's backing array when it is large enough.
func (e Encoder) EncodeInto(dst PulseBuffer, chain Chain) PulseBuffer {
	n := len(chain) * BitsPerPixel
	if dst == nil || cap(dst) < n {
		dst = make(PulseBuffer, n)
	}
	dst = dst[:n]

	order := e.Order
	if order == (ChannelOrder{}) {
		order = GRB
	}
	off := 0
	for _, p := range chain {
		w := order.pack(p)
		for i := BitsPerPixel - 1; i >= 0; i-- {
			if (w>>uint(i))&1 == 1 {
				dst[off] = e.Code1
			} else {
				dst[off] = e.Code0
			}
			off++
		}
	}
	return dst
}

// Decode rebuilds the chain a buffer encodes. Codes at or above the midpoint
// between Code0 and Code1 read as 1.
func (e Encoder) Decode(buf PulseBuffer) (Chain, error) {
	if len(buf)%BitsPerPixel != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBufferLength, len(buf))
	}
	order := e.Order
	if order == (ChannelOrder{}) {
		order = GRB
	}
	mid := e.Code0 + (e.Code1-e.Code0+1)/2
	out := make(Chain, len(buf)/BitsPerPixel)
	off := 0
	for px := range out {
		var w uint32
		for i := 0; i < BitsPerPixel; i++ {
			w <<= 1
			if buf[off] >= mid {
				w |= 1
			}
			off++
		}
		out[px] = order.unpack(w)
	}
	return out, nil
}

// CheckLength reports ErrInvalidChainLength when want > 0 and the chain
// length differs. want == 0 disables the check.
func CheckLength(chain Chain, want int) error {
	if want > 0 && len(chain) != want {
		return fmt.Errorf("%w: got %d pixels, want %d", ErrInvalidChainLength, len(chain), want)
	}
	return nil
}
