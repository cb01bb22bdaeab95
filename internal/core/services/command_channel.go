package services

import (
	"studiolink/internal/core/domain"
	"studiolink/internal/core/ports"
	"studiolink/pkg/utils"

	"go.uber.org/zap"
)

// CommandListener receives every inbound command exactly once.
type CommandListener func(cmd domain.Command)

// Broadcaster sends one payload to every connected peer.
type Broadcaster interface {
	Broadcast(payload []byte, reliability domain.Reliability) error
}

// CommandChannel carries short text commands over the reliable class. The
// whole payload is one command.
type CommandChannel struct {
	sender    Broadcaster
	listeners []CommandListener
	metrics   ports.MetricsCollector
	logger    *zap.SugaredLogger
}

func NewCommandChannel(sender Broadcaster, metrics ports.MetricsCollector, logger *zap.SugaredLogger, listeners ...CommandListener) *CommandChannel {
	return &CommandChannel{
		sender:    sender,
		listeners: listeners,
		metrics:   metrics,
		logger:    logger,
	}
}

// SendCommand validates text and sends it Reliable to all connected peers.
func (c *CommandChannel) SendCommand(text string) error {
	if err := domain.ValidateCommandText(text); err != nil {
		return err
	}
	return c.sender.Broadcast([]byte(text), domain.Reliable)
}

// Dispatch hands an inbound command to every listener.
func (c *CommandChannel) Dispatch(cmd domain.Command) {
	if err := domain.ValidateCommandText(cmd.Command); err != nil {
		c.logger.Debugw("Dropping malformed command",
			"peer", cmd.From.Key(),
			"command", utils.TruncateString(cmd.Command, 32),
		)
		c.metrics.PayloadDropped("malformed_command")
		return
	}

	c.logger.Infow("Command received", "peer", cmd.From.Key(), "command", cmd.Command)
	c.metrics.CommandDispatched(cmd.Command)

	for _, l := range c.listeners {
		l(cmd)
	}
}
