// Package ws2812 encodes pixel chains into WS2812 one-wire pulse trains.
//
// A WS2812 bit is a fixed-length period whose high time selects the symbol:
// a short high is a 0, a long high is a 1. When the line is driven by a
// timer in PWM mode fed by DMA, each bit becomes one compare value, so a
// frame of n pixels is 24*n compare values followed by a run of zero values
// long enough to latch the frame.
//
// Channels are shifted out in the configured ChannelOrder (GRB for genuine
// WS2812 parts), most significant bit first.
package ws2812
