package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	pionwebrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"
	"studiolink/internal/core/services"
	httphandlers "studiolink/internal/handlers/http"
	"studiolink/internal/infrastructure/discovery"
	"studiolink/internal/infrastructure/loopback"
	"studiolink/internal/infrastructure/monitoring"
	webrtcinfra "studiolink/internal/infrastructure/webrtc"
	"studiolink/pkg/config"
	"studiolink/pkg/logger"
	"studiolink/pkg/retry"
	"studiolink/pkg/tracing"
)

var defaultConfigPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/studiolink/config.yaml",
	"config.yaml",
}

// loadConfig prefers an explicit path, then $STUDIO_CONFIG, then the first
// default path that exists. With nothing found the defaults apply.
func loadConfig(explicit string) (*config.Config, error) {
	if explicit == "" {
		explicit = os.Getenv("STUDIO_CONFIG")
	}
	if explicit != "" {
		return config.Load(explicit)
	}

	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	return config.Load("")
}

func sessionConfig(cfg *config.Config) services.SessionConfig {
	enc, _ := domain.ParseEncryptionLevel(cfg.Session.Encryption)

	sc := services.DefaultSessionConfig()
	sc.Service = cfg.Discovery.Service
	sc.Encryption = enc
	sc.InviteTimeout = cfg.Session.InviteTimeout
	sc.Backoff = retry.Config{
		Enabled:      true,
		InitialDelay: cfg.Session.BackoffInitial,
		MaxDelay:     cfg.Session.BackoffMax,
		Multiplier:   cfg.Session.BackoffFactor,
	}
	sc.MaxFrameRate = cfg.Session.MaxFrameRate
	sc.FrameBurst = cfg.Session.FrameBurst
	sc.MaxPayloadBytes = cfg.Session.MaxPayloadBytes
	sc.MaxFramePixels = cfg.Session.MaxFramePixels
	sc.EventBuffer = cfg.Session.EventBuffer
	return sc
}

func webrtcConfig(cfg *config.Config) webrtcinfra.WebRTCConfig {
	enc, _ := domain.ParseEncryptionLevel(cfg.Session.Encryption)

	wc := webrtcinfra.DefaultConfig(cfg.Discovery.Service)
	for _, s := range cfg.Transport.ICEServers {
		wc.ICEServers = append(wc.ICEServers, pionwebrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	wc.PortRange.Min = cfg.Transport.PortRange.Min
	wc.PortRange.Max = cfg.Transport.PortRange.Max
	wc.IncludeLoopback = cfg.Transport.IncludeLoopback
	wc.SignalAddress = cfg.Transport.SignalAddress
	wc.HandshakeTimeout = cfg.Transport.HandshakeTimeout
	wc.Encryption = enc
	return wc
}

func discoveryConfig(cfg *config.Config) discovery.Config {
	dc := discovery.DefaultConfig(cfg.Discovery.Service)
	dc.Domain = cfg.Discovery.Domain
	dc.QueryInterval = cfg.Discovery.QueryInterval
	dc.QueryTimeout = cfg.Discovery.QueryTimeout
	dc.LostAfter = cfg.Discovery.LostAfter
	dc.DisableIPv6 = cfg.Discovery.DisableIPv6
	return dc
}

// node is one assembled studio process.
type node struct {
	session   *services.SessionService
	transport ports.Transport
	discovery ports.Discovery
	demo      *demoCamera
}

func buildNode(cfg *config.Config, self domain.PeerIdentity, admission *services.AdmissionService,
	metrics ports.MetricsCollector, rc *services.RecordingController, useLoopback bool, log *zap.SugaredLogger) (*node, error) {
	n := &node{}
	sc := sessionConfig(cfg)

	if useLoopback {
		hub := loopback.NewHub()
		n.transport = loopback.NewTransport(hub, self,
			loopback.WithService(sc.Service),
			loopback.WithEncryption(sc.Encryption),
			loopback.WithAdmission(admission),
		)
		n.discovery = loopback.NewDiscovery(hub, self, sc.Service)

		demo, err := newDemoCamera(hub, sc, admission, log.Named("demo"))
		if err != nil {
			return nil, err
		}
		n.demo = demo
	} else {
		n.transport = webrtcinfra.NewTransport(self, webrtcConfig(cfg), log.Named("webrtc"),
			webrtcinfra.WithAdmission(admission),
			webrtcinfra.WithMetrics(metrics),
		)
		n.discovery = discovery.NewMDNSDiscovery(self, discoveryConfig(cfg), log.Named("mdns"))
	}

	n.session = services.NewSessionService(self, sc, n.transport, n.discovery, log.Named("session"),
		services.WithMetrics(metrics),
		services.WithAdmission(admission),
		services.WithRecordingController(rc),
	)
	return n, nil
}

// startRoles enables browsing and advertising per config. With both on,
// advertising follows browsing after the stagger delay.
func (n *node) startRoles(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) {
	if cfg.Discovery.Browse {
		if err := n.session.StartBrowsing(ctx); err != nil {
			log.Errorw("Browsing not started", "error", err)
		}
	}
	if !cfg.Discovery.Advertise {
		return
	}

	if cfg.Discovery.Browse && cfg.Discovery.Stagger > 0 {
		select {
		case <-time.After(cfg.Discovery.Stagger):
		case <-ctx.Done():
			return
		}
	}
	if err := n.session.StartAdvertising(ctx); err != nil {
		log.Errorw("Advertising not started", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, useLoopback bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.NodeName = cfg.Node.DisplayName
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Warnw("Tracing disabled", "error", err)
		tp, _ = tracing.Init(tracing.Config{})
	}

	self, err := domain.NewPeerIdentity(cfg.Node.DisplayName)
	if err != nil {
		return err
	}

	admission := services.NewAdmissionService(cfg.Session.AdmissionSecret, cfg.Discovery.Service, cfg.Session.AdmissionTTL)
	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	rc := services.NewRecordingController(metrics, log.Named("recording"), func(recording bool, cmd domain.Command) {
		log.Infow("Recording toggled", "recording", recording, "from", cmd.From.DisplayName)
	})

	n, err := buildNode(cfg, self, admission, metrics, rc, useLoopback, log)
	if err != nil {
		return err
	}

	if err := n.session.Start(ctx); err != nil {
		return err
	}
	go n.startRoles(ctx, cfg, log)
	if n.demo != nil {
		if err := n.demo.Start(ctx); err != nil {
			log.Errorw("Demo camera not started", "error", err)
		}
	}

	health := monitoring.NewHealthChecker()
	health.AddTransportCheck(n.transport, time.Second)
	health.AddDiscoveryCheck(n.discovery, time.Second)
	health.AddReadinessCheck(n.session, time.Second)

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := httphandlers.NewRouter(httphandlers.RouterDeps{
			Config: cfg,
			Logger: log.Named("http"),
			Auth:   admission,
			Studio: httphandlers.NewStudioHandler(n.session, n.session, cfg.Session.MaxPayloadBytes),
			Health: health,
		})

		srv = &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			log.Infow("Starting control API", "address", cfg.Server.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	log.Infow("Studio node running",
		"identity", self.Key(),
		"role", cfg.Node.Role,
		"service", cfg.Discovery.Service,
		"loopback", useLoopback,
	)

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("control API failed: %w", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			_ = srv.Close()
		}
	}
	if n.demo != nil {
		n.demo.Close()
	}
	if err := n.session.Close(); err != nil {
		log.Errorw("Error closing session", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracing", "error", err)
	}

	log.Info("Studio node stopped")
	return runErr
}
