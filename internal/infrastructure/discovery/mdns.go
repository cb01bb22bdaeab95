// Package discovery advertises and browses studio nodes with mDNS / DNS-SD.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"
	"studiolink/pkg/circuitbreaker"
	"studiolink/pkg/tracing"
)

type Config struct {
	Service       string
	Domain        string
	HostName      string
	IPs           []net.IP
	QueryInterval time.Duration
	QueryTimeout  time.Duration
	LostAfter     time.Duration
	DisableIPv6   bool
	// QueryFailures consecutive failed queries pause browsing for QueryPause.
	QueryFailures int
	QueryPause    time.Duration
}

func DefaultConfig(service string) Config {
	return Config{
		Service:       service,
		Domain:        "local.",
		QueryInterval: 2 * time.Second,
		QueryTimeout:  time.Second,
		LostAfter:     8 * time.Second,
		QueryFailures: 3,
		QueryPause:    10 * time.Second,
	}
}

// QueryFunc runs one browse query, sending answers to params.Entries.
type QueryFunc func(ctx context.Context, params *mdns.QueryParam) error

type Option func(*MDNSDiscovery)

// WithQueryFunc replaces the network query, for tests.
func WithQueryFunc(q QueryFunc) Option {
	return func(d *MDNSDiscovery) { d.query = q }
}

// WithClock overrides time.Now for sighting timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *MDNSDiscovery) { d.now = now }
}

// MDNSDiscovery implements ports.Discovery. Every sighting in a query round
// is reported as found; a peer missing for LostAfter is reported lost once.
type MDNSDiscovery struct {
	self   domain.PeerIdentity
	cfg    Config
	logger *zap.SugaredLogger
	query  QueryFunc
	now     func() time.Time
	table   *PeerTable
	breaker *circuitbreaker.CircuitBreaker

	advMu  sync.Mutex
	server *mdns.Server

	mu      sync.Mutex
	handler ports.DiscoveryHandler
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMDNSDiscovery(self domain.PeerIdentity, cfg Config, logger *zap.SugaredLogger, opts ...Option) *MDNSDiscovery {
	d := &MDNSDiscovery{
		self:   self,
		cfg:    cfg,
		logger: logger,
		query:  mdns.QueryContext,
		now:    time.Now,
		table:  NewPeerTable(cfg.LostAfter),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.QueryFailures,
		SuccessThreshold: 1,
		Cooldown:         cfg.QueryPause,
	}, circuitbreaker.WithClock(d.now), circuitbreaker.OnStateChange(d.queryStateChanged))
	return d
}

func (d *MDNSDiscovery) queryStateChanged(from, to circuitbreaker.State) {
	switch to {
	case circuitbreaker.StateOpen:
		d.logger.Warnw("Browse queries paused", "service", d.cfg.Service, "pause", d.cfg.QueryPause)
	case circuitbreaker.StateClosed:
		d.logger.Infow("Browse queries resumed", "service", d.cfg.Service, "from", from.String())
	}
}

// Advertise publishes ad as instance <token> of _<service>._tcp.
func (d *MDNSDiscovery) Advertise(ctx context.Context, ad domain.Advertisement) error {
	d.advMu.Lock()
	defer d.advMu.Unlock()
	if d.server != nil {
		return nil
	}

	_, span := tracing.TraceDiscovery(ctx, "advertise", ad.Service)
	defer span.End()

	svc, err := mdns.NewMDNSService(ad.Identity.Token, ServiceType(ad.Service), d.cfg.Domain,
		d.cfg.HostName, ad.Port, d.cfg.IPs, buildTXT(ad))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("mdns server: %w", err)
	}
	d.server = server

	d.logger.Infow("Advertising",
		"service", ServiceType(ad.Service),
		"instance", ad.Identity.Token,
		"name", ad.Identity.DisplayName,
		"port", ad.Port,
		"encryption", ad.Encryption,
	)
	return nil
}

func (d *MDNSDiscovery) StopAdvertise() {
	d.advMu.Lock()
	server := d.server
	d.server = nil
	d.advMu.Unlock()

	if server == nil {
		return
	}
	if err := server.Shutdown(); err != nil {
		d.logger.Warnw("Failed to stop advertising", "error", err)
		return
	}
	d.logger.Infow("Stopped advertising")
}

func (d *MDNSDiscovery) Advertising() bool {
	d.advMu.Lock()
	defer d.advMu.Unlock()
	return d.server != nil
}

// Browse starts periodic query rounds until StopBrowse or ctx ends.
func (d *MDNSDiscovery) Browse(ctx context.Context, handler ports.DiscoveryHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return nil
	}
	if d.cfg.QueryInterval <= 0 {
		return fmt.Errorf("query interval must be > 0")
	}

	bctx, cancel := context.WithCancel(ctx)
	d.handler = handler
	d.cancel = cancel
	d.done = make(chan struct{})
	d.table.Reset()

	go d.run(bctx, handler, d.done)

	d.logger.Infow("Browsing", "service", ServiceType(d.cfg.Service), "interval", d.cfg.QueryInterval)
	return nil
}

// StopBrowse waits for the running round to finish. No handler call follows.
func (d *MDNSDiscovery) StopBrowse() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done, d.handler = nil, nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.table.Reset()
	d.logger.Infow("Stopped browsing")
}

func (d *MDNSDiscovery) Browsing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

func (d *MDNSDiscovery) run(ctx context.Context, handler ports.DiscoveryHandler, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.QueryInterval)
	defer ticker.Stop()

	for {
		d.round(ctx, handler)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// round runs one query and then sweeps peers that went silent.
func (d *MDNSDiscovery) round(ctx context.Context, handler ports.DiscoveryHandler) {
	qctx, span := tracing.TraceDiscovery(ctx, "browse", d.cfg.Service)
	defer span.End()
	start := time.Now()

	entries := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan int)
	go func() {
		n := 0
		for e := range entries {
			if d.sighting(ctx, handler, e) {
				n++
			}
		}
		collected <- n
	}()

	params := mdns.DefaultParams(ServiceType(d.cfg.Service))
	params.Domain = d.cfg.Domain
	params.Timeout = d.cfg.QueryTimeout
	params.Entries = entries
	params.DisableIPv6 = d.cfg.DisableIPv6

	err := d.breaker.Execute(func() error { return d.query(qctx, params) })
	close(entries)
	n := <-collected

	tracing.MeasureDuration(qctx, start)
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		d.logger.Debugw("Browse query skipped", "service", d.cfg.Service)
	case err != nil && ctx.Err() == nil:
		span.RecordError(err)
		d.logger.Warnw("Browse query failed", "service", d.cfg.Service, "error", err)
	}

	for _, peer := range d.table.Sweep(d.now()) {
		if ctx.Err() != nil {
			return
		}
		d.logger.Infow("Peer lost", "peer", peer.Identity.Key(), "addr", peer.Addr)
		handler.OnPeerLost(peer)
	}

	d.logger.Debugw("Browse round complete", "answers", n, "known", d.table.Len())
}

func (d *MDNSDiscovery) sighting(ctx context.Context, handler ports.DiscoveryHandler, e *mdns.ServiceEntry) bool {
	if ctx.Err() != nil {
		return false
	}

	peer, err := peerFromEntry(e, d.cfg.Service)
	if err != nil {
		d.logger.Debugw("Ignoring browse answer", "error", err)
		return false
	}
	if peer.Identity == d.self {
		return false
	}

	now := d.now()
	if d.table.Observe(peer, now) {
		d.logger.Infow("Peer found",
			"peer", peer.Identity.Key(),
			"addr", peer.Addr,
			"encryption", peer.Encryption,
		)
	}
	peer.LastSeen = now
	handler.OnPeerFound(peer)
	return true
}
