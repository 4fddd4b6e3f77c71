package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/funtimes-ws2812/internal/pwm"
	"github.com/coreman2200/funtimes-ws2812/internal/transmit"
	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

type TimingCfg struct {
	ClockMHz float64 `yaml:"clock_mhz"` // timer clock after prescaler, e.g. 72
	Period   uint16  `yaml:"period"`    // ARR+1, e.g. 84
	Code0    uint16  `yaml:"code0"`     // e.g. 25
	Code1    uint16  `yaml:"code1"`     // e.g. 66
	ResetUs  int     `yaml:"reset_us"`  // latch low time, >= 50
}

type LineCfg struct {
	Channel int    `yaml:"channel"` // timer channel number, 3 or 4 on the board
	Length  int    `yaml:"length"`
	SPIDev  string `yaml:"spi_dev,omitempty"` // port used by the spi driver, e.g. /dev/spidev0.0
}

type Config struct {
	Driver     string  `yaml:"driver"` // "sim" | "spi" | "nrzled"
	ColorOrder string  `yaml:"color_order"`
	Brightness float64 `yaml:"brightness"`
	FPS        int     `yaml:"fps"`
	Addr       string  `yaml:"addr"`
	Pattern    string  `yaml:"pattern,omitempty"`

	Lines  []LineCfg `yaml:"lines"`
	Timing TimingCfg `yaml:"timing"`
}

// Default mirrors the reference board: two 8-LED lines on TIM3 CH3/CH4.
func Default() *Config {
	return &Config{
		Driver:     "sim",
		ColorOrder: "GRB",
		Brightness: 0.8,
		FPS:        30,
		Addr:       ":8080",
		Lines: []LineCfg{
			{Channel: 3, Length: 8, SPIDev: "/dev/spidev0.0"},
			{Channel: 4, Length: 8, SPIDev: "/dev/spidev0.1"},
		},
		Timing: TimingCfg{ClockMHz: 72, Period: 84, Code0: 25, Code1: 66, ResetUs: 50},
	}
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// WireTiming converts the timer section, filling zero fields from the defaults.
func (c *Config) WireTiming() ws2812.Timing {
	t := ws2812.DefaultTiming()
	if c.Timing.ClockMHz > 0 {
		t.Clock = physic.Frequency(c.Timing.ClockMHz * float64(physic.MegaHertz))
	}
	if c.Timing.Period > 0 {
		t.Period = c.Timing.Period
	}
	if c.Timing.Code0 > 0 {
		t.Code0 = c.Timing.Code0
	}
	if c.Timing.Code1 > 0 {
		t.Code1 = c.Timing.Code1
	}
	if c.Timing.ResetUs > 0 {
		t.Reset = time.Duration(c.Timing.ResetUs) * time.Microsecond
	}
	return t
}

// TransmitLines converts the lines section.
func (c *Config) TransmitLines() []transmit.Line {
	out := make([]transmit.Line, 0, len(c.Lines))
	for _, l := range c.Lines {
		out = append(out, transmit.Line{Channel: pwm.Channel(l.Channel), Length: l.Length})
	}
	return out
}

func (c *Config) Validate() error {
	if len(c.Lines) == 0 {
		return fmt.Errorf("config: no lines")
	}
	for i, l := range c.Lines {
		if l.Channel < 1 || l.Channel > 4 {
			return fmt.Errorf("config: line %d: channel %d out of range 1..4", i, l.Channel)
		}
		if l.Length < 0 {
			return fmt.Errorf("config: line %d: negative length", i)
		}
	}
	if _, err := ws2812.ParseChannelOrder(c.ColorOrder); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Timing.ResetUs > 0 && c.Timing.ResetUs < 50 {
		return fmt.Errorf("config: reset_us %d is below the 50us latch time", c.Timing.ResetUs)
	}
	if err := c.WireTiming().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
