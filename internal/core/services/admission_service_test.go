package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionService_DisabledAdmitsEveryone(t *testing.T) {
	svc := NewAdmissionService("", "studio", time.Minute)
	self := identity("Cam", "token-aaaa")

	assert.False(t, svc.Enabled())
	token, err := svc.IssueToken(self)
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.NoError(t, svc.Verify("", self))
}

func TestAdmissionService_RoundTrip(t *testing.T) {
	svc := NewAdmissionService("s3cret", "studio", time.Minute)
	self := identity("Cam", "token-aaaa")

	token, err := svc.IssueToken(self)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.NoError(t, svc.Verify(token, self))
	assert.ErrorIs(t, svc.Verify(token, identity("Cam", "token-bbbb")), ErrUnauthorized)
	assert.ErrorIs(t, svc.Verify("", self), ErrUnauthorized)
}

func TestAdmissionService_WrongSecretOrService(t *testing.T) {
	self := identity("Cam", "token-aaaa")

	token, err := NewAdmissionService("other", "studio", time.Minute).IssueToken(self)
	require.NoError(t, err)
	assert.ErrorIs(t, NewAdmissionService("s3cret", "studio", time.Minute).Verify(token, self), ErrInvalidToken)

	token, err = NewAdmissionService("s3cret", "cinema", time.Minute).IssueToken(self)
	require.NoError(t, err)
	assert.ErrorIs(t, NewAdmissionService("s3cret", "studio", time.Minute).Verify(token, self), ErrInvalidToken)
}

func TestAdmissionService_Expired(t *testing.T) {
	svc := NewAdmissionService("s3cret", "studio", time.Minute)
	self := identity("Cam", "token-aaaa")

	past := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return past }
	token, err := svc.IssueToken(self)
	require.NoError(t, err)

	svc.now = time.Now
	assert.ErrorIs(t, svc.Verify(token, self), ErrExpiredToken)
}

func TestAdmissionService_APITokensAreSeparate(t *testing.T) {
	svc := NewAdmissionService("s3cret", "studio", time.Minute)
	self := identity("Cam", "token-aaaa")

	apiToken, err := svc.IssueAPIToken("operator")
	require.NoError(t, err)

	subject, err := svc.ValidateAPIToken(apiToken)
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)

	// handshake tokens are not API tokens and vice versa
	hs, err := svc.IssueToken(self)
	require.NoError(t, err)
	_, err = svc.ValidateAPIToken(hs)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Error(t, svc.Verify(apiToken, self))
}
