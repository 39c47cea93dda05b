// Package middleware holds the local API's HTTP middleware.
package middleware

import (
	"context"
	"net/http"

	"github.com/zhouzirui/echo-chat/client/internal/service/guard"
	"github.com/zhouzirui/echo-chat/client/pkg/utils"
)

// Checker 由 *guard.Guard 实现
type Checker interface {
	Check() guard.Decision
}

type decisionKey struct{}

// RequireToken 只放行持有未过期令牌的请求，否则返回 401 并给出跳转路由。
// 每个请求都会重新判断，令牌过期后下一个请求即被拒绝；onDeny 可以为 nil。
func RequireToken(g Checker, onDeny func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.Check()
			if !decision.Allowed {
				if onDeny != nil {
					onDeny()
				}
				utils.RespondJSON(w, http.StatusUnauthorized, map[string]string{
					"error":    string(decision.Reason),
					"redirect": decision.Redirect,
				})
				return
			}

			ctx := context.WithValue(r.Context(), decisionKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DecisionFrom 返回 RequireToken 放行时的判定结果
func DecisionFrom(ctx context.Context) (guard.Decision, bool) {
	decision, ok := ctx.Value(decisionKey{}).(guard.Decision)
	return decision, ok
}
