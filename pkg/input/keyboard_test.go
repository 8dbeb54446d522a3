package input

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyboard_HoldWindow(t *testing.T) {
	k := NewKeyboard(nil, 0)
	require.True(t, k.Press("w", t0))

	assert.Equal(t, 1.0, k.Frame(t0).LeftStick.Y)
	assert.Equal(t, 1.0, k.Frame(t0.Add(DefaultHoldWindow)).LeftStick.Y)
	assert.Zero(t, k.Frame(t0.Add(DefaultHoldWindow+time.Millisecond)).LeftStick.Y)
}

func TestKeyboard_RepeatExtendsHold(t *testing.T) {
	k := NewKeyboard(nil, 100*time.Millisecond)
	k.Press("d", t0)
	k.Press("d", t0.Add(80*time.Millisecond))
	assert.Equal(t, 1.0, k.Frame(t0.Add(150*time.Millisecond)).LeftStick.X)
}

func TestKeyboard_OpposingKeysCancel(t *testing.T) {
	k := NewKeyboard(nil, 100*time.Millisecond)
	k.Press("a", t0)
	k.Press("d", t0)
	assert.Zero(t, k.Frame(t0).LeftStick.X)

	// d expires while a keeps repeating
	k.Press("a", t0.Add(80*time.Millisecond))
	assert.Equal(t, -1.0, k.Frame(t0.Add(150*time.Millisecond)).LeftStick.X)
}

func TestKeyboard_DefaultKeymap(t *testing.T) {
	k := NewKeyboard(nil, 0)
	for _, key := range []string{"q", "e", " ", "f", "z", "x", "backspace", "enter", "1", "2", "3", "4"} {
		require.True(t, k.Press(key, t0), key)
	}
	f := k.Frame(t0)
	assert.Equal(t, 1.0, f.LT)
	assert.Equal(t, 1.0, f.RT)
	assert.Equal(t, Buttons{
		A: true, B: true, X: true, Y: true,
		Select: true, Start: true,
		DpadUp: true, DpadLeft: true, DpadRight: true, DpadDown: true,
	}, f.Buttons)

	assert.False(t, k.Press("p", t0))

	k.Reset()
	assert.Equal(t, Frame{}, k.Frame(t0))
}

func TestKeymap_Bind(t *testing.T) {
	m := DefaultKeymap()
	require.NoError(t, m.Bind("up", "stick_up"))
	assert.Equal(t, StickUp, m["up"])
	assert.Equal(t, StickUp, m["w"])

	assert.Error(t, m.Bind("k", "jump"))
}

func TestControl_String(t *testing.T) {
	for c, name := range controlNames {
		got, err := ParseControl(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got, name)
	}
	assert.Equal(t, "control(99)", Control(99).String())
}

func jsEvent(typ byte, num byte, value int16) []byte {
	b := make([]byte, jsEventSize)
	binary.LittleEndian.PutUint16(b[4:6], uint16(value))
	b[6] = typ
	b[7] = num
	return b
}

func TestJoystick_Poll(t *testing.T) {
	r, w := io.Pipe()
	j := newJoystick("test", r)
	defer j.Close()

	f, ok := j.Poll()
	require.True(t, ok)
	assert.Zero(t, f.LT, "untouched trigger reads zero")

	events := [][]byte{
		jsEvent(jsEventAxis|jsEventInit, jsAxisLT, -32767),
		jsEvent(jsEventAxis, jsAxisLY, -32767),
		jsEvent(jsEventAxis, jsAxisRT, 0),
		jsEvent(jsEventButton, jsButtonA, 1),
		jsEvent(jsEventAxis, jsAxisHatX, 32767),
	}
	for _, ev := range events {
		_, err := w.Write(ev)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		f, _ := j.Poll()
		return f.Buttons.DpadRight
	}, time.Second, time.Millisecond)

	f, ok = j.Poll()
	require.True(t, ok)
	assert.InDelta(t, 1, f.LeftStick.Y, 1e-9, "device up is negative")
	assert.Zero(t, f.LT)
	assert.InDelta(t, 0.5, f.RT, 1e-9)
	assert.True(t, f.Buttons.A)

	w.Close()
	assert.Eventually(t, func() bool {
		_, ok := j.Poll()
		return !ok
	}, time.Second, time.Millisecond)
}
