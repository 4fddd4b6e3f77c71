package patterns

import (
	"fmt"

	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

type Kind string

const (
	None       Kind = ""
	IndexSweep Kind = "index_sweep"
	RGBTest    Kind = "rgb_channels"
	Solid      Kind = "solid"
	Off        Kind = "off"
)

// ParseKind accepts the names above.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case IndexSweep, RGBTest, Solid, Off:
		return k, nil
	}
	return None, fmt.Errorf("unknown pattern %q", s)
}

type Plan struct {
	Kind Kind
	// Color is used by Solid.
	Color ws2812.Pixel
	// Brightness scales every channel, 0..1. Zero means full.
	Brightness float64
}

type Runner struct {
	plan Plan
	step int
}

func NewRunner(plan Plan) *Runner { return &Runner{plan: plan} }
func (r *Runner) Kind() Kind      { return r.plan.Kind }

// Step fills one chain per line; returns false when complete.
// IndexSweep lights each LED in turn across all lines and then ends;
// RGBTest and Solid run until replaced; Off emits one dark frame.
func (r *Runner) Step(lines []ws2812.Chain) bool {
	for _, c := range lines {
		for i := range c {
			c[i] = ws2812.Pixel{}
		}
	}
	v := r.level(255)

	switch r.plan.Kind {
	case IndexSweep:
		idx := r.step
		for _, c := range lines {
			if idx < len(c) {
				c[idx] = ws2812.Pixel{R: v, G: v, B: v}
				r.step++
				return true
			}
			idx -= len(c)
		}
		return false
	case RGBTest:
		phase := r.step % 3
		for _, c := range lines {
			for i := range c {
				switch phase {
				case 0:
					c[i].R = v
				case 1:
					c[i].G = v
				case 2:
					c[i].B = v
				}
			}
		}
	case Solid:
		p := ws2812.Pixel{R: r.level(r.plan.Color.R), G: r.level(r.plan.Color.G), B: r.level(r.plan.Color.B)}
		for _, c := range lines {
			for i := range c {
				c[i] = p
			}
		}
	case Off:
		if r.step > 0 {
			return false
		}
	default:
		return false
	}
	r.step++
	return true
}

func (r *Runner) level(v uint8) uint8 {
	b := r.plan.Brightness
	if b <= 0 || b >= 1 {
		return v
	}
	return uint8(float64(v) * b)
}
