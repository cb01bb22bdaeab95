package services

import (
	"errors"
	"time"

	"studiolink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

const apiAudienceSuffix = ".api"

// AdmissionClaims are carried by handshake and API tokens. Subject is the
// caller's identity key; audience is the service name.
type AdmissionClaims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// AdmissionService signs and verifies HS256 tokens with a shared secret.
// With an empty secret every hello is admitted.
type AdmissionService struct {
	secret  []byte
	service string
	ttl     time.Duration
	now     func() time.Time
}

func NewAdmissionService(secret, service string, ttl time.Duration) *AdmissionService {
	return &AdmissionService{
		secret:  []byte(secret),
		service: service,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *AdmissionService) Enabled() bool {
	return len(s.secret) > 0
}

// IssueToken returns the token self presents in its hellos. Empty when
// admission is disabled.
func (s *AdmissionService) IssueToken(self domain.PeerIdentity) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	return s.sign(self.Key(), self.DisplayName, s.service)
}

// Verify checks a hello's token against the identity it claims.
func (s *AdmissionService) Verify(token string, claimed domain.PeerIdentity) error {
	if !s.Enabled() {
		return nil
	}
	claims, err := s.parse(token, s.service)
	if err != nil {
		return err
	}
	if claims.Subject != claimed.Key() {
		return ErrUnauthorized
	}
	return nil
}

// IssueAPIToken returns a bearer token for the status API.
func (s *AdmissionService) IssueAPIToken(subject string) (string, error) {
	if !s.Enabled() {
		return "", ErrUnauthorized
	}
	return s.sign(subject, "", s.service+apiAudienceSuffix)
}

// ValidateAPIToken returns the subject of a valid status API token.
func (s *AdmissionService) ValidateAPIToken(token string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	claims, err := s.parse(token, s.service+apiAudienceSuffix)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *AdmissionService) sign(subject, name, audience string) (string, error) {
	now := s.now()
	claims := &AdmissionClaims{
		DisplayName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *AdmissionService) parse(tokenString, audience string) (*AdmissionClaims, error) {
	if tokenString == "" {
		return nil, ErrUnauthorized
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdmissionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*AdmissionClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
