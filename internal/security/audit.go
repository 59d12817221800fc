package security

import (
	"fmt"
	"time"

	iauth "github.com/expensio/expensio/internal/auth"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// AuthSettings carries the authentication parameters the audit evaluates.
type AuthSettings struct {
	RefreshTokenTTL    time.Duration
	RefreshTokenLength int
}

// AuditService evaluates authentication configuration at startup so weak
// settings are surfaced in the logs before the server accepts traffic.
type AuditService struct {
	jwt      *iauth.JWTService
	settings AuthSettings
	now      func() time.Time
}

// NewAuditService constructs the audit service. A nil JWT service degrades the
// secret strength check to a warning.
func NewAuditService(jwt *iauth.JWTService, settings AuthSettings) *AuditService {
	return &AuditService{
		jwt:      jwt,
		settings: settings,
		now:      time.Now,
	}
}

// WithClock overrides the clock used in results (primarily for testing).
func (s *AuditService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Run executes all audit checks and returns their outcome.
func (s *AuditService) Run() Result {
	checks := []Check{
		s.checkJWTSecret(),
		s.checkRefreshTTL(),
		s.checkRefreshTokenLength(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (s *AuditService) checkJWTSecret() Check {
	if s.jwt == nil {
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     "JWT service not initialised; unable to assess signing secret strength.",
			Remediation: "Initialise the JWT service with a strong secret.",
		}
	}

	length := s.jwt.SecretLength()

	switch {
	case length < 32:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
		}
	case length < 48:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase the length of EXPENSIO_AUTH_JWT_SECRET to at least 48 bytes.",
		}
	default:
		return Check{
			ID:      "jwt_secret_strength",
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
		}
	}
}

func (s *AuditService) checkRefreshTTL() Check {
	ttl := s.settings.RefreshTokenTTL
	if ttl <= 0 {
		return Check{
			ID:          "session_refresh_ttl",
			Status:      StatusWarn,
			Message:     "Refresh token TTL is not configured; using the default duration.",
			Remediation: "Set EXPENSIO_AUTH_SESSION_REFRESH_TTL to control session lifetime.",
		}
	}

	const maxRecommended = 30 * 24 * time.Hour

	if ttl > maxRecommended {
		return Check{
			ID:          "session_refresh_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Refresh token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommended),
			Remediation: "Reduce refresh token TTL to 30 days or lower to limit credential exposure.",
		}
	}

	return Check{
		ID:      "session_refresh_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Refresh token TTL is %s.", ttl),
	}
}

func (s *AuditService) checkRefreshTokenLength() Check {
	length := s.settings.RefreshTokenLength
	if length <= 0 {
		return Check{
			ID:          "refresh_token_length",
			Status:      StatusWarn,
			Message:     "Refresh token length is not configured; using the default length.",
			Remediation: "Set EXPENSIO_AUTH_SESSION_REFRESH_LENGTH to at least 32 bytes.",
		}
	}

	if length < 32 {
		return Check{
			ID:          "refresh_token_length",
			Status:      StatusFail,
			Message:     fmt.Sprintf("Refresh tokens are only %d bytes of entropy.", length),
			Remediation: "Use refresh tokens of at least 32 random bytes.",
		}
	}

	return Check{
		ID:      "refresh_token_length",
		Status:  StatusPass,
		Message: fmt.Sprintf("Refresh tokens carry %d bytes of entropy.", length),
	}
}
