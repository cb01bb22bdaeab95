package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxServiceNameLength = 15
	MaxDisplayNameLength = 63
	MaxCommandLength     = 256
)

var (
	// ServiceNameRegex follows the DNS-SD service name rules: lowercase
	// letters, digits and hyphens, starting and ending with a letter or digit.
	ServiceNameRegex = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,13}[a-z0-9])?$`)

	// PeerTokenRegex validates the unique half of a peer identity.
	PeerTokenRegex = regexp.MustCompile(`^[a-zA-Z0-9-]{8,64}$`)
)

// ValidateServiceName validates the application-level service descriptor
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if len(name) > MaxServiceNameLength {
		return fmt.Errorf("service name is too long (max %d characters)", MaxServiceNameLength)
	}
	if !ServiceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid service name format (lowercase letters, digits and inner hyphens only)")
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("service name must not contain consecutive hyphens")
	}
	return nil
}

// ValidateDisplayName validates a human-readable peer name
func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("display name is required")
	}
	if len(name) > MaxDisplayNameLength {
		return fmt.Errorf("display name is too long (max %d bytes)", MaxDisplayNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	if strings.ContainsAny(name, "#@") {
		return fmt.Errorf("display name must not contain '#' or '@'")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("display name contains control characters")
		}
	}
	return nil
}

// ValidatePeerToken validates the unique token of a peer identity
func ValidatePeerToken(token string) error {
	if token == "" {
		return fmt.Errorf("peer token is required")
	}
	if !PeerTokenRegex.MatchString(token) {
		return fmt.Errorf("invalid peer token format")
	}
	return nil
}

// ValidateCommand validates command text sent over the reliable channel
func ValidateCommand(command string) error {
	if command == "" {
		return fmt.Errorf("command is required")
	}
	if len(command) > MaxCommandLength {
		return fmt.Errorf("command is too long (max %d bytes)", MaxCommandLength)
	}
	if !utf8.ValidString(command) {
		return fmt.Errorf("command must be valid UTF-8")
	}
	for _, r := range command {
		if unicode.IsControl(r) {
			return fmt.Errorf("command contains control characters")
		}
	}
	return nil
}
