package ws2812_test

import (
	"image"
	"image/color"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	. "github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

var TestChainsRoundTrip = []Chain{
	{},
	{{R: 255}},
	{{R: 0x12, G: 0x34, B: 0x56}},
	{{R: 1, G: 2, B: 3}, {R: 0x80, G: 0x7F, B: 0xFF}, {}},
	Solid(30, Pixel{R: 0xAA, G: 0x55, B: 0x0F}),
}

func TestEncodeLength(t *testing.T) {
	enc := NewEncoder(GRB, DefaultTiming())
	for k, c := range TestChainsRoundTrip {
		t.Run("Chain"+strconv.Itoa(k), func(t *testing.T) {
			buf := enc.Encode(c)
			assert.Len(t, buf, BitsPerPixel*len(c))
		})
	}
}

func TestEncodeEmpty(t *testing.T) {
	buf := NewEncoder(GRB, DefaultTiming()).Encode(nil)
	require.NotNil(t, buf)
	assert.Empty(t, buf)
}

func TestEncodeSingleRed(t *testing.T) {
	tm := DefaultTiming()
	buf := NewEncoder(RGB, tm).Encode(Chain{{R: 255, G: 0, B: 0}})
	require.Len(t, buf, 24)
	for i, v := range buf {
		if i < 8 {
			assert.Equal(t, tm.Code1, v, "bit %d", i)
		} else {
			assert.Equal(t, tm.Code0, v, "bit %d", i)
		}
	}
}

func TestEncodeGRBOrder(t *testing.T) {
	tm := DefaultTiming()
	// Red pixel in GRB order: the long pulses land in the second byte.
	buf := NewEncoder(GRB, tm).Encode(Chain{{R: 255}})
	require.Len(t, buf, 24)
	for i, v := range buf {
		want := tm.Code0
		if i >= 8 && i < 16 {
			want = tm.Code1
		}
		assert.Equal(t, want, v, "bit %d", i)
	}
}

func TestEncodeMSBFirst(t *testing.T) {
	tm := DefaultTiming()
	buf := NewEncoder(RGB, tm).Encode(Chain{{R: 0x80, G: 0x01}})
	assert.Equal(t, tm.Code1, buf[0])
	for i := 1; i < 15; i++ {
		assert.Equal(t, tm.Code0, buf[i], "bit %d", i)
	}
	assert.Equal(t, tm.Code1, buf[15])
}

func TestEncodeOnlyTwoCodes(t *testing.T) {
	tm := DefaultTiming()
	enc := NewEncoder(GRB, tm)
	for _, c := range TestChainsRoundTrip {
		for _, v := range enc.Encode(c) {
			assert.Contains(t, []uint16{tm.Code0, tm.Code1}, v)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	for _, order := range []string{"GRB", "RGB", "BRG", "bgr"} {
		o, err := ParseChannelOrder(order)
		require.NoError(t, err)
		enc := NewEncoder(o, DefaultTiming())
		for k, c := range TestChainsRoundTrip {
			t.Run(order+strconv.Itoa(k), func(t *testing.T) {
				got, err := enc.Decode(enc.Encode(c))
				require.NoError(t, err)
				assert.Equal(t, len(c), len(got))
				for i := range c {
					assert.Equal(t, c[i], got[i])
				}
			})
		}
	}
}

func TestDecodeBadLength(t *testing.T) {
	_, err := NewEncoder(GRB, DefaultTiming()).Decode(make(PulseBuffer, 23))
	assert.ErrorIs(t, err, ErrBufferLength)
}

func TestEncodeIntoReusesBuffer(t *testing.T) {
	enc := NewEncoder(GRB, DefaultTiming())
	dst := make(PulseBuffer, 0, 48)
	out := enc.EncodeInto(dst, Chain{{R: 1}, {G: 2}})
	require.Len(t, out, 48)
	assert.Same(t, &dst[:1][0], &out[0])
}

func TestCheckLength(t *testing.T) {
	c := Solid(4, Pixel{})
	assert.NoError(t, CheckLength(c, 4))
	assert.NoError(t, CheckLength(c, 0))
	assert.ErrorIs(t, CheckLength(c, 5), ErrInvalidChainLength)
}

func TestParseChannelOrder(t *testing.T) {
	o, err := ParseChannelOrder("")
	require.NoError(t, err)
	assert.Equal(t, GRB, o)

	for _, bad := range []string{"RG", "RRB", "RGX", "RGBW"} {
		_, err := ParseChannelOrder(bad)
		assert.ErrorIs(t, err, ErrChannelOrder, bad)
	}
}

func TestChainFromImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(0, 1, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(2, 1, color.NRGBA{B: 9, A: 255})
	c := ChainFromImage(img, 1)
	assert.Equal(t, Chain{{R: 255}, {}, {B: 9}}, c)
}

func TestChainFromRGB(t *testing.T) {
	c, err := ChainFromRGB([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, Chain{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}}, c)
	_, err = ChainFromRGB([]byte{1, 2})
	assert.Error(t, err)
}

func TestTimingDefaults(t *testing.T) {
	tm := DefaultTiming()
	require.NoError(t, tm.Validate())
	assert.Equal(t, 1166*time.Nanosecond, tm.BitPeriod())
	// 50µs / 1.166µs rounds up to 43 symbols.
	assert.Equal(t, 43, tm.ResetCodes())
	assert.GreaterOrEqual(t, tm.Duration(tm.ResetCodes()), tm.Reset)
	assert.Len(t, tm.ResetBuffer(), 43)
	for _, v := range tm.ResetBuffer() {
		assert.Equal(t, CodeReset, v)
	}
}

func TestTimingValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Timing)
	}{
		{"zero clock", func(t *Timing) { t.Clock = 0 }},
		{"sub-hertz clock", func(t *Timing) { t.Clock = physic.Hertz / 10 }},
		{"clock too fast for period", func(t *Timing) { t.Clock = 2 * physic.TeraHertz }},
		{"zero period", func(t *Timing) { t.Period = 0 }},
		{"code0 zero", func(t *Timing) { t.Code0 = 0 }},
		{"codes swapped", func(t *Timing) { t.Code0, t.Code1 = t.Code1, t.Code0 }},
		{"code1 past period", func(t *Timing) { t.Code1 = t.Period }},
		{"zero reset", func(t *Timing) { t.Reset = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := DefaultTiming()
			tt.mod(&tm)
			assert.ErrorIs(t, tm.Validate(), ErrTiming)
		})
	}
}

func TestTimingBitRate(t *testing.T) {
	tm := Timing{Clock: 8 * physic.MegaHertz, Period: 10, Code0: 3, Code1: 7, Reset: 50 * time.Microsecond}
	assert.Equal(t, 800*physic.KiloHertz, tm.BitRate())
	assert.Equal(t, 1250*time.Nanosecond, tm.BitPeriod())
	assert.Equal(t, 40, tm.ResetCodes())
}
