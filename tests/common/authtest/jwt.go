//go:build unit || e2e

package authtest

import (
	"testing"
	"time"

	"event-voucher/internal/domain/user"
	"event-voucher/internal/pkg/clock"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/jwt"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type JWTHelper struct {
	cfg   config.JWTConfig
	clock clock.Clock
}

// NewJWTHelper signs with cfg's secret. clk may be nil; pass the clock the
// server validates with when tests move time.
func NewJWTHelper(cfg config.JWTConfig, clk clock.Clock) *JWTHelper {
	return &JWTHelper{cfg: cfg, clock: clk}
}

func (h *JWTHelper) GenerateToken(t *testing.T, userID uuid.UUID, role user.Role) string {
	t.Helper()
	duration, err := time.ParseDuration(h.cfg.Duration)
	require.NoError(t, err)
	token, err := jwt.NewService(h.cfg.Secret, duration, h.clock).GenerateToken(userID, role)
	require.NoError(t, err)
	return token
}

// Editor returns a fresh editor id with a signed token.
func (h *JWTHelper) Editor(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	return id, h.GenerateToken(t, id, user.RoleEditor)
}

func (h *JWTHelper) Admin(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	return id, h.GenerateToken(t, id, user.RoleAdmin)
}

func (h *JWTHelper) CreateExpiredToken(t *testing.T, userID uuid.UUID, role user.Role) string {
	t.Helper()
	past := clock.NewMockClock(time.Now().Add(-2 * time.Hour))
	token, err := jwt.NewService(h.cfg.Secret, time.Hour, past).GenerateToken(userID, role)
	require.NoError(t, err)
	return token
}
