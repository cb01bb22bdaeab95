package services

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"studiolink/internal/core/domain"
)

// pngPayload encodes a solid image whose width tells frames apart.
func pngPayload(t *testing.T, width int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, 2))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// hugePNG is a tiny PNG whose header claims width x height pixels.
func hugePNG(t *testing.T, width, height uint32) []byte {
	t.Helper()

	data := pngPayload(t, 1)
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc after 13 data bytes
	require.Equal(t, "IHDR", string(data[12:16]))
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func jpegPayload(t *testing.T, width int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, 4))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func identity(name, token string) domain.PeerIdentity {
	return domain.PeerIdentity{DisplayName: name, Token: token}
}

func decodedFrame(t *testing.T, width int) (domain.Frame, image.Image) {
	t.Helper()
	d := ClassifyPayload(pngPayload(t, width), DefaultSessionConfig().MaxFramePixels)
	require.Equal(t, PayloadImage, d.Kind)
	return d.Frame, d.Image
}
