package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/funtimes-ws2812/internal/pwm"
	"github.com/coreman2200/funtimes-ws2812/internal/transmit"
	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, ws2812.DefaultTiming(), c.WireTiming())
	assert.Equal(t, []transmit.Line{
		{Channel: pwm.Channel3, Length: 8},
		{Channel: pwm.Channel4, Length: 8},
	}, c.TransmitLines())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
driver: spi
color_order: RGB
lines:
  - channel: 3
    length: 30
timing:
  clock_mhz: 8
  period: 10
  code0: 3
  code1: 7
  reset_us: 300
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "spi", c.Driver)
	assert.Equal(t, 30, c.FPS, "unset fields keep defaults")
	assert.Equal(t, []transmit.Line{{Channel: pwm.Channel3, Length: 30}}, c.TransmitLines())

	tm := c.WireTiming()
	assert.Equal(t, 8*physic.MegaHertz, tm.Clock)
	assert.Equal(t, uint16(10), tm.Period)
	assert.Equal(t, 300*time.Microsecond, tm.Reset)
}

func TestSaveLoadKeepsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	c := Default()
	c.Lines[1].Length = 12
	require.NoError(t, Save(path, c))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Lines, got.Lines)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"no lines", func(c *Config) { c.Lines = nil }},
		{"bad channel", func(c *Config) { c.Lines[0].Channel = 7 }},
		{"negative length", func(c *Config) { c.Lines[0].Length = -1 }},
		{"bad order", func(c *Config) { c.ColorOrder = "RGBW" }},
		{"short reset", func(c *Config) { c.Timing.ResetUs = 20 }},
		{"code1 past period", func(c *Config) { c.Timing.Code1 = 90 }},
		{"sub-hertz clock", func(c *Config) { c.Timing.ClockMHz = 1e-7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mod(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
