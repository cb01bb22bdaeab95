package domain

import "time"

// SlotView is a point-in-time copy of one frame slot.
type SlotView struct {
	ID        string
	Label     string
	Peer      PeerIdentity
	Format    string
	Width     int
	Height    int
	Seq       uint64
	UpdatedAt time.Time
}

// Frame is the latest image held by a slot, raw and decoded size.
type Frame struct {
	Format string
	Data   []byte
	Width  int
	Height int
}

// ContentType maps an image format name to its MIME type.
func (f Frame) ContentType() string {
	switch f.Format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	}
	return "application/octet-stream"
}
