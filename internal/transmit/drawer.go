package transmit

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"periph.io/x/conn/v3/display"

	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

// Drawer exposes a Transmitter as a periph display. Row y of the display is
// the y-th line; its width is the longest line. Pixels past the end of a
// shorter line are not sent.
type Drawer struct {
	t    *Transmitter
	name string
	img  *image.NRGBA
}

// NewDrawer needs every line to have a fixed length.
func NewDrawer(t *Transmitter, name string) (*Drawer, error) {
	w := 0
	for _, l := range t.lines {
		if l.Length == 0 {
			return nil, fmt.Errorf("transmit: drawer needs a length for %s", l.Channel)
		}
		if l.Length > w {
			w = l.Length
		}
	}
	return &Drawer{
		t:    t,
		name: name,
		img:  image.NewNRGBA(image.Rect(0, 0, w, len(t.lines))),
	}, nil
}

func (d *Drawer) String() string {
	return "ws2812{" + d.name + "}"
}

// ColorModel implements display.Drawer.
func (d *Drawer) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer. Min is always {0, 0}.
func (d *Drawer) Bounds() image.Rectangle {
	return d.img.Bounds()
}

// Draw implements display.Drawer. Areas outside r keep what was drawn before.
func (d *Drawer) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	if !r.Empty() {
		draw.Draw(d.img, r, src, sp, draw.Src)
	}
	return d.flush()
}

// Halt implements display.Drawer by sending an all-off frame.
func (d *Drawer) Halt() error {
	draw.Draw(d.img, d.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
	return d.flush()
}

func (d *Drawer) flush() error {
	chains := make([]ws2812.Chain, len(d.t.lines))
	for y, l := range d.t.lines {
		row := d.img.SubImage(image.Rect(0, y, l.Length, y+1))
		chains[y] = ws2812.ChainFromImage(row, y)
	}
	return d.t.Transmit(chains...)
}

var _ display.Drawer = &Drawer{}
