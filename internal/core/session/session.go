package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	httperr "github.com/dairytrack/dairytrack/internal/core/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-ID"
)

// Role is the farm role of the caller.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleFarmer     Role = "farmer"
)

// ParseRole accepts a role name case-insensitively. Empty defaults to farmer.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleFarmer:
		return RoleFarmer, true
	case RoleSupervisor:
		return RoleSupervisor, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Session identifies the caller of one request. It is built once at the
// HTTP boundary and passed down through the request context.
type Session struct {
	UserID    string
	Role      Role
	RequestID string
}

// Authenticated reports whether the caller identified themselves.
func (s Session) Authenticated() bool { return s.UserID != "" }

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored in ctx. The zero Session is
// returned for anonymous requests.
func FromContext(ctx context.Context) Session {
	s, _ := ctx.Value(contextKey{}).(Session)
	return s
}

// Middleware builds the request session from identity headers and stores it
// in the request context. A request id is generated when the caller sends none.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)

		s := Session{RequestID: requestID}
		if userID := strings.TrimSpace(c.GetHeader(HeaderUserID)); userID != "" {
			role, ok := ParseRole(c.GetHeader(HeaderUserRole))
			if ok {
				s.UserID = userID
				s.Role = role
			} else {
				slog.Warn("[Session] Ignoring identity with unknown role",
					"request_id", requestID,
					"user_id", userID,
					"role", c.GetHeader(HeaderUserRole))
			}
		}

		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), s))
		c.Next()
	}
}

// Require rejects anonymous requests with 401 when enabled.
func Require(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled || FromContext(c.Request.Context()).Authenticated() {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnauthorizedError,
			Message:   "A session is required: send " + HeaderUserID,
		})
	}
}
