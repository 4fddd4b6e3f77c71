package diagnostics

import (
	"errors"

	"github.com/coreman2200/funtimes-ws2812/internal/transmit"
	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

type Diagnostic struct {
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// FromError classifies an error returned or published by the transmitter.
func FromError(err error) Diagnostic {
	var terr *transmit.TransmitError
	switch {
	case errors.As(err, &terr):
		return Diagnostic{
			Severity: Err,
			Code:     "TX.HARDWARE",
			Summary:  "Transfer failed; frame abandoned",
			Detail:   err.Error(),
			LikelyCauses: []string{
				"DMA transfer error on the timer channel",
				"SPI port unplugged or busy",
			},
			SuggestedFixes: []string{"Send the frame again", "Check the data line wiring"},
			Evidence: map[string]any{
				"channel": terr.Channel.String(),
				"state":   terr.State.String(),
			},
		}
	case errors.Is(err, ws2812.ErrInvalidChainLength):
		return Diagnostic{
			Severity:       Warn,
			Code:           "TX.LENGTH",
			Summary:        "Chain length does not match the configured line",
			Detail:         err.Error(),
			SuggestedFixes: []string{"Send exactly one pixel per LED on each line"},
		}
	case errors.Is(err, transmit.ErrLineCount):
		return Diagnostic{
			Severity: Warn,
			Code:     "TX.LINES",
			Summary:  "Frame has the wrong number of lines",
			Detail:   err.Error(),
		}
	case errors.Is(err, transmit.ErrClosed):
		return Diagnostic{Severity: Warn, Code: "TX.CLOSED", Summary: "Transmitter closed", Detail: err.Error()}
	default:
		return Diagnostic{Severity: Err, Code: "TX.UNKNOWN", Summary: "Unexpected error", Detail: err.Error()}
	}
}
