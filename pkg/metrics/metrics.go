package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cacatua", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cacatua", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	AuthLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cacatua", Name: "auth_logins_total", Help: "Login attempts by result."},
		[]string{"result"},
	)
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cacatua", Name: "token_refresh_total", Help: "Refresh requests by result."},
		[]string{"result"},
	)
	RefreshRotationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cacatua", Name: "refresh_rotation_conflicts_total", Help: "Rotations that lost a race or found no old token."},
	)
	RefreshTokenReuse = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cacatua", Name: "refresh_token_reuse_total", Help: "Rotated-out refresh tokens presented again."},
	)
	RefreshTokensSwept = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cacatua", Name: "refresh_tokens_swept_total", Help: "Expired refresh tokens removed by the sweeper."},
	)
	ChatMessages = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "cacatua", Name: "chat_messages_total", Help: "Chat messages accepted."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		RateLimitAllowed,
		RateLimitRejected,
		AuthLogins,
		TokenRefreshes,
		RefreshRotationConflicts,
		RefreshTokenReuse,
		RefreshTokensSwept,
		ChatMessages,
	)
}
