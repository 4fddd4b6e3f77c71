package ws2812

import "errors"

var (
	ErrInvalidChainLength = errors.New("ws2812: chain length does not match line length")
	ErrBufferLength       = errors.New("ws2812: pulse buffer length is not a multiple of 24")
	ErrChannelOrder       = errors.New("ws2812: invalid channel order")
	ErrTiming             = errors.New("ws2812: invalid timing")
)
