package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValid(UM))
	assert.True(t, IsValid(PX))
	assert.False(t, IsValid("nm"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("UM"), "unit names are case sensitive")
}

func TestValidUnitsString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "um, px", ValidUnitsString())
}

func TestConvertLength(t *testing.T) {
	t.Parallel()

	const pitch = 0.1602804

	t.Run("px to um multiplies by the pitch", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 512*pitch, ConvertLength(512, PX, UM, pitch), 1e-12)
	})

	t.Run("um to px divides by the pitch", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 512, ConvertLength(512*pitch, UM, PX, pitch), 1e-9)
	})

	t.Run("same units pass through", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 3.5, ConvertLength(3.5, UM, UM, pitch))
		assert.Equal(t, 3.5, ConvertLength(3.5, PX, PX, pitch))
	})

	t.Run("zero pitch never divides by zero", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 2.0, ConvertLength(2.0, UM, PX, 0))
	})
}
