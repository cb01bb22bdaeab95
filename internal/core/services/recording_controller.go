package services

import (
	"sync"
	"time"

	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"

	"go.uber.org/zap"
)

// RecordingController follows START_REC / STOP_REC and ignores anything else.
type RecordingController struct {
	mu        sync.RWMutex
	recording bool
	since     time.Time
	lastFrom  domain.PeerIdentity

	onChange func(recording bool, cmd domain.Command)
	metrics  ports.MetricsCollector
	logger   *zap.SugaredLogger
}

func NewRecordingController(metrics ports.MetricsCollector, logger *zap.SugaredLogger, onChange func(recording bool, cmd domain.Command)) *RecordingController {
	return &RecordingController{
		onChange: onChange,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleCommand is a CommandListener.
func (r *RecordingController) HandleCommand(cmd domain.Command) {
	var want bool
	switch cmd.Command {
	case domain.CommandStartRecording:
		want = true
	case domain.CommandStopRecording:
		want = false
	default:
		return
	}

	r.mu.Lock()
	changed := r.recording != want
	r.recording = want
	r.lastFrom = cmd.From
	if changed {
		r.since = cmd.ReceivedAt
	}
	r.mu.Unlock()

	if !changed {
		return
	}

	r.logger.Infow("Recording state changed", "recording", want, "from", cmd.From.Key())
	r.metrics.SetRecording(want)
	if r.onChange != nil {
		r.onChange(want, cmd)
	}
}

func (r *RecordingController) Recording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current state, when it began and who requested it.
func (r *RecordingController) Status() (bool, time.Time, domain.PeerIdentity) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording, r.since, r.lastFrom
}
