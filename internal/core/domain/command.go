package domain

import (
	"fmt"
	"time"

	"studiolink/pkg/validation"
)

// CommandEventName tags every dispatched command.
const CommandEventName = "studio.command"

const (
	CommandStartRecording = "START_REC"
	CommandStopRecording  = "STOP_REC"
)

type Command struct {
	Name       string
	Command    string
	From       PeerIdentity
	ReceivedAt time.Time
}

func NewCommand(text string, from PeerIdentity, at time.Time) Command {
	return Command{Name: CommandEventName, Command: text, From: from, ReceivedAt: at}
}

func ValidateCommandText(text string) error {
	if err := validation.ValidateCommand(text); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return nil
}
