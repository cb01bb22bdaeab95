package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"
	apperrors "studiolink/pkg/errors"
	"studiolink/pkg/utils"
)

// InvitationLister reports peers with an outstanding connection attempt.
type InvitationLister interface {
	Invited(ctx context.Context) ([]domain.PeerIdentity, error)
}

// StudioHandler exposes the local node over the control API.
type StudioHandler struct {
	studio          ports.StudioService
	invitations     InvitationLister
	maxPayloadBytes int
}

var _ ports.HTTPHandler = (*StudioHandler)(nil)

func NewStudioHandler(studio ports.StudioService, invitations InvitationLister, maxPayloadBytes int) *StudioHandler {
	return &StudioHandler{
		studio:          studio,
		invitations:     invitations,
		maxPayloadBytes: maxPayloadBytes,
	}
}

func (h *StudioHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/peers", h.ListPeers)
	api.GET("/slots", h.ListSlots)
	api.GET("/slots/:id/frame", h.GetSlotFrame)
	api.POST("/commands", h.PostCommand)
	api.POST("/frames", h.PostFrame)
	api.GET("/stats", h.GetStats)
}

type peerView struct {
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

type slotView struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	PeerKey   string    `json:"peer_key"`
	Format    string    `json:"format"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

type peerStatsView struct {
	PeerKey       string    `json:"peer_key"`
	FramesIn      uint64    `json:"frames_in"`
	FramesOut     uint64    `json:"frames_out"`
	CommandsIn    uint64    `json:"commands_in"`
	CommandsOut   uint64    `json:"commands_out"`
	BytesIn       uint64    `json:"bytes_in"`
	Dropped       uint64    `json:"dropped"`
	LastFrameAt   time.Time `json:"last_frame_at,omitempty"`
	Reconnections int       `json:"reconnections"`
}

func (h *StudioHandler) ListPeers(c *gin.Context) {
	connected := h.studio.ConnectedPeers()
	peers := make([]peerView, 0, len(connected))
	for _, p := range connected {
		peers = append(peers, peerView{
			Key:         p.Identity.Key(),
			DisplayName: p.Identity.DisplayName,
			State:       p.State.String(),
			ConnectedAt: p.ConnectedAt,
		})
	}

	invited := []string{}
	if h.invitations != nil {
		ids, err := h.invitations.Invited(c.Request.Context())
		if err != nil {
			c.Error(apperrors.NewServiceUnavailableError("session not running"))
			return
		}
		for _, id := range ids {
			invited = append(invited, id.Key())
		}
	}

	self := h.studio.Identity()
	c.JSON(http.StatusOK, gin.H{
		"self":      self.Key(),
		"connected": h.studio.IsConnected(),
		"count":     len(peers),
		"peers":     peers,
		"invited":   invited,
	})
}

func (h *StudioHandler) ListSlots(c *gin.Context) {
	snapshot := h.studio.Slots()
	slots := make([]slotView, 0, len(snapshot))
	for _, s := range snapshot {
		slots = append(slots, slotView{
			ID:        s.ID,
			Label:     s.Label,
			PeerKey:   s.Peer.Key(),
			Format:    s.Format,
			Width:     s.Width,
			Height:    s.Height,
			Seq:       s.Seq,
			UpdatedAt: s.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(slots),
		"slots": slots,
	})
}

// GetSlotFrame returns the latest image bytes of one slot.
func (h *StudioHandler) GetSlotFrame(c *gin.Context) {
	frame, err := h.studio.SlotFrame(c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSlotNotFound) {
			c.Error(apperrors.NewNotFoundError("slot"))
			return
		}
		c.Error(err)
		return
	}
	if len(frame.Data) == 0 {
		c.Error(apperrors.NewNotFoundError("frame"))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, frame.ContentType(), frame.Data)
}

type commandRequest struct {
	Command string `json:"command" binding:"required,max=1024"`
}

func (h *StudioHandler) PostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	command := strings.TrimSpace(req.Command)
	if err := h.studio.SendCommand(command); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"command": command,
		"peers":   len(h.studio.ConnectedPeers()),
	})
}

// PostFrame broadcasts the raw request body as one frame.
func (h *StudioHandler) PostFrame(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.maxPayloadBytes))
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Error(apperrors.NewPayloadTooLargeError(h.maxPayloadBytes))
			return
		}
		c.Error(apperrors.NewInvalidInputError("failed to read frame"))
		return
	}

	if err := h.studio.SendFrame(payload); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"bytes": len(payload),
		"peers": len(h.studio.ConnectedPeers()),
	})
}

func (h *StudioHandler) GetStats(c *gin.Context) {
	stats := h.studio.Stats()

	peers := make([]peerStatsView, 0, len(stats.Peers))
	for _, p := range stats.Peers {
		peers = append(peers, peerStatsView{
			PeerKey:       p.Peer.Key(),
			FramesIn:      p.FramesIn,
			FramesOut:     p.FramesOut,
			CommandsIn:    p.CommandsIn,
			CommandsOut:   p.CommandsOut,
			BytesIn:       p.BytesIn,
			Dropped:       p.Dropped,
			LastFrameAt:   p.LastFrameAt,
			Reconnections: p.Reconnections,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"connected_peers": stats.ConnectedPeers,
		"slots":           stats.Slots,
		"recording":       stats.Recording,
		"uptime":          utils.FormatDuration(stats.Uptime),
		"peers":           peers,
	})
}
