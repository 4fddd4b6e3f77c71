package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/funtimes-ws2812/internal/pwm"
)

func TestStartCompleteRecordsEvents(t *testing.T) {
	h := New(pwm.Channel3)
	var got []pwm.Channel
	h.OnComplete(func(ch pwm.Channel, err error) {
		assert.NoError(t, err)
		got = append(got, ch)
	})

	buf := []uint16{25, 66}
	require.NoError(t, h.Start(pwm.Channel3, buf))
	assert.ErrorIs(t, h.Start(pwm.Channel3, buf), pwm.ErrBusy)
	assert.ErrorIs(t, h.Start(pwm.Channel1, buf), pwm.ErrUnknownChannel)

	buf[0] = 1 // caller misbehaves while in flight
	require.NoError(t, h.Complete(pwm.Channel3))
	assert.Equal(t, []pwm.Channel{pwm.Channel3}, got)
	assert.Equal(t, 1, h.Corrupted())

	ev := h.Events()
	require.Len(t, ev, 2)
	assert.Equal(t, KindStart, ev[0].Kind)
	assert.Equal(t, []uint16{25, 66}, ev[0].Codes)
	assert.Equal(t, KindComplete, ev[1].Kind)
	assert.Less(t, ev[0].Seq, ev[1].Seq)
}

func TestCompleteWithoutTransfer(t *testing.T) {
	h := New()
	assert.Error(t, h.Complete(pwm.Channel4))
}

func TestFailAndStop(t *testing.T) {
	h := New()
	var gotErr error
	h.OnComplete(func(ch pwm.Channel, err error) { gotErr = err })

	require.NoError(t, h.Start(pwm.Channel4, []uint16{25}))
	boom := errors.New("boom")
	require.NoError(t, h.Fail(pwm.Channel4, boom))
	assert.ErrorIs(t, gotErr, boom)

	require.NoError(t, h.Start(pwm.Channel4, []uint16{25}))
	require.NoError(t, h.Stop(pwm.Channel4))
	assert.False(t, h.Busy())
	assert.ErrorIs(t, h.Stop(pwm.Channel4), pwm.ErrIdle)
}

func TestCompleteLater(t *testing.T) {
	h := New(pwm.Channel3)
	var got []pwm.Channel
	h.OnComplete(func(ch pwm.Channel, err error) { got = append(got, ch) })

	require.NoError(t, h.Start(pwm.Channel3, []uint16{25}))
	deliver, err := h.CompleteLater(pwm.Channel3)
	require.NoError(t, err)
	assert.False(t, h.Busy())
	assert.Empty(t, got)
	assert.ErrorIs(t, h.Stop(pwm.Channel3), pwm.ErrIdle)

	deliver()
	assert.Equal(t, []pwm.Channel{pwm.Channel3}, got)

	_, err = h.CompleteLater(pwm.Channel3)
	assert.Error(t, err)
}

func TestAutoComplete(t *testing.T) {
	h := New()
	h.AutoComplete(time.Microsecond)
	done := make(chan pwm.Channel, 1)
	h.OnComplete(func(ch pwm.Channel, err error) { done <- ch })
	require.NoError(t, h.Start(pwm.Channel3, make([]uint16, 10)))
	select {
	case ch := <-done:
		assert.Equal(t, pwm.Channel3, ch)
	case <-time.After(time.Second):
		t.Fatal("no auto completion")
	}
}
