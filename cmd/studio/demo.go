package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"go.uber.org/zap"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/services"
	"studiolink/internal/infrastructure/loopback"
)

const demoFrameInterval = 500 * time.Millisecond

// demoCamera is a second node on the loopback hub that streams a generated
// test pattern.
type demoCamera struct {
	session *services.SessionService
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newDemoCamera(hub *loopback.Hub, sc services.SessionConfig, admission *services.AdmissionService, logger *zap.SugaredLogger) (*demoCamera, error) {
	self, err := domain.NewPeerIdentity("Demo Camera")
	if err != nil {
		return nil, err
	}

	transport := loopback.NewTransport(hub, self,
		loopback.WithService(sc.Service),
		loopback.WithEncryption(sc.Encryption),
		loopback.WithAdmission(admission),
	)
	discovery := loopback.NewDiscovery(hub, self, sc.Service)
	session := services.NewSessionService(self, sc, transport, discovery, logger,
		services.WithAdmission(admission),
		services.WithCommandListener(func(cmd domain.Command) {
			logger.Infow("Demo camera got command", "command", cmd.Command, "from", cmd.From.DisplayName)
		}),
	)
	return &demoCamera{session: session, logger: logger}, nil
}

func (d *demoCamera) Start(ctx context.Context) error {
	if err := d.session.Start(ctx); err != nil {
		return err
	}
	if err := d.session.StartBrowsing(ctx); err != nil {
		return err
	}
	if err := d.session.StartAdvertising(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	go d.stream(runCtx, done)
	return nil
}

func (d *demoCamera) stream(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(demoFrameInterval)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !d.session.IsConnected() {
			continue
		}

		frame, err := testPattern(n)
		n++
		if err != nil {
			d.logger.Warnw("Test pattern encode failed", "error", err)
			continue
		}
		if err := d.session.SendFrame(frame); err != nil {
			d.logger.Warnw("Demo frame not sent", "error", err)
		}
	}
}

func (d *demoCamera) Close() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := d.session.Close(); err != nil {
		d.logger.Warnw("Demo camera close failed", "error", err)
	}
}

// testPattern renders a small PNG with a bar that moves with n.
func testPattern(n int) ([]byte, error) {
	const w, h = 64, 36
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bar := n % w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: uint8(x * 4), G: uint8(y * 7), B: 96, A: 255}
			if x == bar {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
