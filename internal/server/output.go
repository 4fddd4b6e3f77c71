package server

import (
	"image"

	"periph.io/x/conn/v3/display"

	"github.com/coreman2200/funtimes-ws2812/internal/transmit"
	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

// Output accepts frames, one chain per line.
type Output interface {
	Transmit(chains ...ws2812.Chain) error
}

// Status is implemented by outputs that report transmission progress.
type Status interface {
	State() transmit.State
	Pending() bool
	Stats() transmit.Stats
	Errors() <-chan error
}

// DrawerOutput feeds frames to a single-row periph display, such as an
// nrzled strip or a console screen, with the lines laid end to end.
type DrawerOutput struct {
	D display.Drawer
}

func (o *DrawerOutput) Transmit(chains ...ws2812.Chain) error {
	n := 0
	for _, c := range chains {
		n += len(c)
	}
	img := image.NewNRGBA(image.Rect(0, 0, n, 1))
	x := 0
	for _, c := range chains {
		for _, p := range c {
			img.SetNRGBA(x, 0, p.NRGBA())
			x++
		}
	}
	return o.D.Draw(o.D.Bounds(), img, image.Point{})
}

var (
	_ Output = &DrawerOutput{}
	_ Output = &transmit.Transmitter{}
	_ Status = &transmit.Transmitter{}
)
