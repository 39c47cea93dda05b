// Package guard decides whether the chat view may be shown for the stored token.
package guard

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/echo-chat/client/internal/app"
	"github.com/zhouzirui/echo-chat/client/internal/logger"
)

// Reason explains a guard decision.
type Reason string

const (
	ReasonValid     Reason = "valid"
	ReasonMissing   Reason = "missing"
	ReasonMalformed Reason = "malformed"
	ReasonNoExpiry  Reason = "no-expiry"
	ReasonExpired   Reason = "expired"
)

// Decision is the outcome of a single check. Redirect is set when Allowed is false.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    Reason    `json:"reason"`
	Redirect  string    `json:"redirect,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Subject   string    `json:"subject,omitempty"`
}

// Guard gates the chat view on a stored, unexpired token. It only decodes the token;
// the signature belongs to the auth server and is not verified here.
type Guard struct {
	appCtx *app.Context
	parser *jwt.Parser
	now    func() time.Time
}

// Option customises a Guard.
type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// New creates a Guard reading the token from appCtx.
func New(appCtx *app.Context, opts ...Option) *Guard {
	g := &Guard{
		appCtx: appCtx,
		parser: jwt.NewParser(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check decides whether the guarded view may render. It is evaluated afresh on every call.
// Any token that cannot be used is removed from the application context.
func (g *Guard) Check() Decision {
	raw, ok, err := g.appCtx.Token()
	if err != nil {
		logger.Warn("guard could not read token", "error", err)
	}
	if !ok {
		return deny(ReasonMissing)
	}

	claims := jwt.MapClaims{}
	if _, _, err := g.parser.ParseUnverified(raw, claims); err != nil {
		logger.Debug("guard rejected undecodable token", "error", err)
		return g.reject(ReasonMalformed)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return g.reject(ReasonMalformed)
	}
	if exp == nil {
		return g.reject(ReasonNoExpiry)
	}

	if !exp.Time.After(g.now()) {
		return g.reject(ReasonExpired)
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		// the auth backend puts the numeric user id in "id"
		if id, ok := claims["id"].(float64); ok {
			subject = strconv.FormatInt(int64(id), 10)
		}
	}

	return Decision{
		Allowed:   true,
		Reason:    ReasonValid,
		ExpiresAt: exp.Time,
		Subject:   subject,
	}
}

func (g *Guard) reject(reason Reason) Decision {
	if err := g.appCtx.ClearToken(); err != nil {
		logger.Warn("guard could not clear token", "reason", reason, "error", err)
	}
	return deny(reason)
}

func deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason, Redirect: app.RouteEntry}
}
