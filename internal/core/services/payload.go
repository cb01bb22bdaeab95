package services

import (
	"bytes"
	"image"
	"unicode/utf8"

	// Registered decoders define what counts as an image payload.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"studiolink/internal/core/domain"
)

type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadImage
	PayloadText
	// PayloadOversized is an image whose header declares more pixels than
	// allowed. It is never decoded.
	PayloadOversized
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadImage:
		return "image"
	case PayloadText:
		return "text"
	case PayloadOversized:
		return "oversized"
	}
	return "unknown"
}

// DecodedPayload is the result of sniffing one inbound payload.
type DecodedPayload struct {
	Kind  PayloadKind
	Frame domain.Frame
	Image image.Image
	Text  string
}

// ClassifyPayload sniffs payload: a decodable image first, then UTF-8 text
// without NUL bytes. Anything else is PayloadUnknown. An image header
// declaring more than maxPixels pixels yields PayloadOversized with only the
// header fields of Frame set.
func ClassifyPayload(payload []byte, maxPixels int) DecodedPayload {
	if len(payload) == 0 {
		return DecodedPayload{Kind: PayloadUnknown}
	}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(payload)); err == nil {
		if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
			return DecodedPayload{
				Kind:  PayloadOversized,
				Frame: domain.Frame{Format: format, Width: cfg.Width, Height: cfg.Height},
			}
		}
		img, _, err := image.Decode(bytes.NewReader(payload))
		if err == nil {
			return DecodedPayload{
				Kind:  PayloadImage,
				Image: img,
				Frame: domain.Frame{
					Format: format,
					Data:   payload,
					Width:  cfg.Width,
					Height: cfg.Height,
				},
			}
		}
	}

	if utf8.Valid(payload) && bytes.IndexByte(payload, 0) < 0 {
		return DecodedPayload{Kind: PayloadText, Text: string(payload)}
	}

	return DecodedPayload{Kind: PayloadUnknown}
}
