package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"studiolink/internal/core/domain"
)

// PrometheusCollector implements ports.MetricsCollector.
type PrometheusCollector struct {
	// Gauges
	peersConnected prometheus.Gauge
	slotsActive    prometheus.Gauge
	recording      prometheus.Gauge

	// Counters
	peersDiscovered    prometheus.Counter
	peersLost          prometheus.Counter
	invitationsSent    prometheus.Counter
	invitationsExpired prometheus.Counter
	stateChanges       *prometheus.CounterVec
	payloadsReceived   *prometheus.CounterVec
	bytesReceived      *prometheus.CounterVec
	payloadsDropped    *prometheus.CounterVec
	payloadsSent       *prometheus.CounterVec
	bytesSent          *prometheus.CounterVec
	sendFailures       *prometheus.CounterVec
	commandsDispatched *prometheus.CounterVec
	handshakes         *prometheus.CounterVec

	// Histograms
	handshakeDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers the studio metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		peersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studiolink_peers_connected",
			Help: "Number of peers with an open link",
		}),

		slotsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studiolink_slots_active",
			Help: "Number of frame slots currently shown",
		}),

		recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studiolink_recording",
			Help: "1 while recording is on",
		}),

		peersDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "studiolink_peers_discovered_total",
			Help: "Browse sightings of other peers",
		}),

		peersLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "studiolink_peers_lost_total",
			Help: "Peers that stopped answering browse queries",
		}),

		invitationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "studiolink_invitations_sent_total",
			Help: "Connection attempts started",
		}),

		invitationsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "studiolink_invitations_expired_total",
			Help: "Connection attempts abandoned after the invite timeout",
		}),

		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_state_changes_total",
			Help: "Connection state changes reported by the transport",
		}, []string{"state"}),

		payloadsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_payloads_received_total",
			Help: "Payloads received, by classification",
		}, []string{"kind"}),

		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_bytes_received_total",
			Help: "Payload bytes received, by classification",
		}, []string{"kind"}),

		payloadsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_payloads_dropped_total",
			Help: "Payloads dropped, by reason",
		}, []string{"reason"}),

		payloadsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_payloads_sent_total",
			Help: "Payload deliveries attempted, one per recipient",
		}, []string{"reliability"}),

		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_bytes_sent_total",
			Help: "Payload bytes sent, summed over recipients",
		}, []string{"reliability"}),

		sendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_send_failures_total",
			Help: "Sends that failed for at least one recipient",
		}, []string{"reliability"}),

		commandsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_commands_dispatched_total",
			Help: "Inbound commands delivered to listeners",
		}, []string{"command"}),

		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studiolink_handshakes_total",
			Help: "Completed handshakes by direction and result",
		}, []string{"direction", "result"}),

		handshakeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studiolink_handshake_duration_seconds",
			Help:    "Time from handshake start to open data channels",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"direction"}),
	}
}

func (p *PrometheusCollector) PeerDiscovered()    { p.peersDiscovered.Inc() }
func (p *PrometheusCollector) PeerLost()          { p.peersLost.Inc() }
func (p *PrometheusCollector) InvitationSent()    { p.invitationsSent.Inc() }
func (p *PrometheusCollector) InvitationExpired() { p.invitationsExpired.Inc() }

func (p *PrometheusCollector) StateChanged(state domain.ConnectionState) {
	p.stateChanges.WithLabelValues(state.String()).Inc()
}

func (p *PrometheusCollector) SetConnectedPeers(n int) { p.peersConnected.Set(float64(n)) }
func (p *PrometheusCollector) SetSlots(n int)          { p.slotsActive.Set(float64(n)) }

func (p *PrometheusCollector) PayloadReceived(kind string, bytes int) {
	p.payloadsReceived.WithLabelValues(kind).Inc()
	p.bytesReceived.WithLabelValues(kind).Add(float64(bytes))
}

func (p *PrometheusCollector) PayloadDropped(reason string) {
	p.payloadsDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) PayloadSent(reliability domain.Reliability, peers int, bytes int) {
	label := string(reliability)
	p.payloadsSent.WithLabelValues(label).Add(float64(peers))
	p.bytesSent.WithLabelValues(label).Add(float64(peers * bytes))
}

func (p *PrometheusCollector) SendFailed(reliability domain.Reliability) {
	p.sendFailures.WithLabelValues(string(reliability)).Inc()
}

func (p *PrometheusCollector) CommandDispatched(command string) {
	p.commandsDispatched.WithLabelValues(commandLabel(command)).Inc()
}

func (p *PrometheusCollector) HandshakeCompleted(direction string, success bool, d time.Duration) {
	result := "failure"
	if success {
		result = "success"
		p.handshakeDuration.WithLabelValues(direction).Observe(d.Seconds())
	}
	p.handshakes.WithLabelValues(direction, result).Inc()
}

func (p *PrometheusCollector) SetRecording(recording bool) {
	if recording {
		p.recording.Set(1)
		return
	}
	p.recording.Set(0)
}

// commandLabel keeps label cardinality bounded: free-form commands share
// one series.
func commandLabel(command string) string {
	switch command {
	case domain.CommandStartRecording, domain.CommandStopRecording:
		return command
	}
	return "other"
}
