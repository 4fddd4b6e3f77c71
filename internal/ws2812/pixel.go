package ws2812

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

// Bit offsets of each channel in a packed GRB word, as shifted out on the wire.
// Other orders reuse them by wire position: first channel at GREEN_OFFSET.
const (
	GREEN_OFFSET uint8 = 0x10
	RED_OFFSET   uint8 = 0x08
	BLUE_OFFSET  uint8 = 0x0
)

// BitsPerPixel is the number of symbols emitted for one pixel.
const BitsPerPixel = 24

// Pixel holds the three channel intensities of one LED.
type Pixel struct {
	R, G, B uint8
}

// Chain is the ordered list of pixels on one output line. Index 0 is sent first.
type Chain []Pixel

func setcolor(c uint32, n uint8, off uint8) uint32 {
	var val uint32 = uint32(n) << off
	var mask uint32 = 0xFF << off
	return (c & (^mask)) | val
}

func getcolor(c uint32, off uint8) uint8 {
	var mask uint32 = 0xFF << off
	return uint8((c & mask) >> off)
}

// FromColor converts any color.Color, dropping alpha after premultiplication.
func FromColor(c color.Color) Pixel {
	r, g, b, _ := c.RGBA()
	return Pixel{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// NRGBA returns the pixel as an opaque color.NRGBA.
func (p Pixel) NRGBA() color.NRGBA {
	return color.NRGBA{R: p.R, G: p.G, B: p.B, A: 255}
}

func (p Pixel) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.R, p.G, p.B)
}

// ChainFromImage reads row y of img, left to right, into a chain.
func ChainFromImage(img image.Image, y int) Chain {
	b := img.Bounds()
	out := make(Chain, 0, b.Dx())
	for x := b.Min.X; x < b.Max.X; x++ {
		out = append(out, FromColor(img.At(x, y)))
	}
	return out
}

// ChainFromRGB parses a flat r,g,b,r,g,b... byte slice.
func ChainFromRGB(rgb []byte) (Chain, error) {
	if len(rgb)%3 != 0 {
		return nil, fmt.Errorf("rgb length %d is not a multiple of 3", len(rgb))
	}
	out := make(Chain, len(rgb)/3)
	for i := range out {
		out[i] = Pixel{R: rgb[i*3+0], G: rgb[i*3+1], B: rgb[i*3+2]}
	}
	return out, nil
}

// Solid returns a chain of n copies of p.
func Solid(n int, p Pixel) Chain {
	out := make(Chain, n)
	for i := range out {
		out[i] = p
	}
	return out
}

// ChannelOrder is the wire order of the three channels.
type ChannelOrder [3]byte

var (
	GRB = ChannelOrder{'G', 'R', 'B'}
	RGB = ChannelOrder{'R', 'G', 'B'}
)

// ParseChannelOrder accepts any permutation of "RGB", case-insensitive.
// An empty string yields GRB.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	if s == "" {
		return GRB, nil
	}
	s = strings.ToUpper(s)
	if len(s) != 3 {
		return ChannelOrder{}, fmt.Errorf("%w: %q", ErrChannelOrder, s)
	}
	var seen [3]bool
	var o ChannelOrder
	for i := 0; i < 3; i++ {
		var k int
		switch s[i] {
		case 'R':
			k = 0
		case 'G':
			k = 1
		case 'B':
			k = 2
		default:
			return ChannelOrder{}, fmt.Errorf("%w: %q", ErrChannelOrder, s)
		}
		if seen[k] {
			return ChannelOrder{}, fmt.Errorf("%w: %q", ErrChannelOrder, s)
		}
		seen[k] = true
		o[i] = s[i]
	}
	return o, nil
}

func (o ChannelOrder) String() string {
	return string(o[:])
}

var wireOffsets = [3]uint8{GREEN_OFFSET, RED_OFFSET, BLUE_OFFSET}

// pack places the channels of p into a 24-bit word, first wire channel in
// the top byte.
func (o ChannelOrder) pack(p Pixel) uint32 {
	var v uint32
	for i, off := range wireOffsets {
		v = setcolor(v, o.channel(p, i), off)
	}
	return v
}

// unpack is the inverse of pack.
func (o ChannelOrder) unpack(v uint32) Pixel {
	var p Pixel
	for i, off := range wireOffsets {
		o.set(&p, i, getcolor(v, off))
	}
	return p
}

// channel picks the intensity for wire position i.
func (o ChannelOrder) channel(p Pixel, i int) uint8 {
	switch o[i] {
	case 'R':
		return p.R
	case 'B':
		return p.B
	default:
		return p.G
	}
}

// set stores v as the intensity for wire position i.
func (o ChannelOrder) set(p *Pixel, i int, v uint8) {
	switch o[i] {
	case 'R':
		p.R = v
	case 'B':
		p.B = v
	default:
		p.G = v
	}
}
