package validation

import (
	"strings"
	"testing"
)

func TestValidateServiceName(t *testing.T) {
	tests := []struct {
		name    string
		service string
		wantErr bool
	}{
		{"simple", "studio", false},
		{"with hyphen", "cam-studio", false},
		{"digits", "studio2", false},
		{"single char", "s", false},
		{"max length", strings.Repeat("a", 15), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 16), true},
		{"uppercase", "Studio", true},
		{"underscore", "cam_studio", true},
		{"leading hyphen", "-studio", true},
		{"trailing hyphen", "studio-", true},
		{"double hyphen", "cam--studio", true},
		{"space", "cam studio", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceName(tt.service)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServiceName(%q) error = %v, wantErr %v", tt.service, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		display string
		wantErr bool
	}{
		{"ascii", "Camera A", false},
		{"unicode", "Kamera Süd", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"too long", strings.Repeat("a", 64), true},
		{"hash reserved", "cam#1", true},
		{"at reserved", "cam@1", true},
		{"control char", "cam\n1", true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.display)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName(%q) error = %v, wantErr %v", tt.display, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePeerToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"uuid", "6f1c2a4e-9b7d-4c1e-8f3a-2d5b6c7e8f90", false},
		{"empty", "", true},
		{"too short", "abc", true},
		{"bad chars", "token/with/slash", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePeerToken(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{"start", "START_REC", false},
		{"stop", "STOP_REC", false},
		{"free text", "slate take 3", false},
		{"empty", "", true},
		{"too long", strings.Repeat("x", 257), true},
		{"nul byte", "START\x00REC", true},
		{"newline", "START_REC\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.command)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommand(%q) error = %v, wantErr %v", tt.command, err, tt.wantErr)
			}
		})
	}
}
