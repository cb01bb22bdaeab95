package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPayload(t *testing.T) {
	maxPixels := DefaultSessionConfig().MaxFramePixels

	t.Run("png", func(t *testing.T) {
		d := ClassifyPayload(pngPayload(t, 7), maxPixels)
		assert.Equal(t, PayloadImage, d.Kind)
		assert.Equal(t, "png", d.Frame.Format)
		assert.Equal(t, 7, d.Frame.Width)
		assert.Equal(t, 2, d.Frame.Height)
		assert.NotNil(t, d.Image)
	})

	t.Run("jpeg", func(t *testing.T) {
		d := ClassifyPayload(jpegPayload(t, 16), maxPixels)
		assert.Equal(t, PayloadImage, d.Kind)
		assert.Equal(t, "jpeg", d.Frame.Format)
		assert.Equal(t, 16, d.Frame.Width)
	})

	t.Run("command text", func(t *testing.T) {
		d := ClassifyPayload([]byte("START_REC"), maxPixels)
		assert.Equal(t, PayloadText, d.Kind)
		assert.Equal(t, "START_REC", d.Text)
	})

	t.Run("truncated image falls through to drop", func(t *testing.T) {
		data := pngPayload(t, 32)
		d := ClassifyPayload(data[:len(data)/2], maxPixels)
		assert.Equal(t, PayloadUnknown, d.Kind)
	})

	t.Run("binary garbage", func(t *testing.T) {
		d := ClassifyPayload([]byte{0xff, 0xfe, 0x00, 0x81}, maxPixels)
		assert.Equal(t, PayloadUnknown, d.Kind)
	})

	t.Run("text with NUL", func(t *testing.T) {
		d := ClassifyPayload([]byte("STOP\x00REC"), maxPixels)
		assert.Equal(t, PayloadUnknown, d.Kind)
	})

	t.Run("oversized header is not decoded", func(t *testing.T) {
		data := hugePNG(t, 20000, 20000)
		require.Less(t, len(data), 128)

		d := ClassifyPayload(data, maxPixels)
		assert.Equal(t, PayloadOversized, d.Kind)
		assert.Equal(t, "png", d.Frame.Format)
		assert.Equal(t, 20000, d.Frame.Width)
		assert.Equal(t, 20000, d.Frame.Height)
		assert.Nil(t, d.Image)
		assert.Nil(t, d.Frame.Data)
	})

	t.Run("limit is inclusive", func(t *testing.T) {
		assert.Equal(t, PayloadImage, ClassifyPayload(pngPayload(t, 8), 16).Kind)
		assert.Equal(t, PayloadOversized, ClassifyPayload(pngPayload(t, 9), 16).Kind)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, PayloadUnknown, ClassifyPayload(nil, maxPixels).Kind)
	})
}

func TestPayloadKindString(t *testing.T) {
	assert.Equal(t, "image", PayloadImage.String())
	assert.Equal(t, "text", PayloadText.String())
	assert.Equal(t, "oversized", PayloadOversized.String())
	assert.Equal(t, "unknown", PayloadUnknown.String())
}
