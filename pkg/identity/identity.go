// Package identity resolves the calling user. Authentication happens upstream; the gateway
// forwards the verified user id in the X-User-ID header (websocket clients may use ?user_id=).
package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kisanmandi/pkg/response"
)

const (
	HeaderUserID = "X-User-ID"
	contextKey   = "user_id"
)

// FromRequest returns the caller's user id, preferring the header over the query string.
func FromRequest(c *gin.Context) (string, bool) {
	uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if uid == "" {
		uid = strings.TrimSpace(c.Query("user_id"))
	}
	if _, err := uuid.Parse(uid); err != nil {
		return "", false
	}
	return uid, true
}

// Require aborts requests that do not carry a valid user id.
func Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := FromRequest(c)
		if !ok {
			response.SendAPIResponse(c, http.StatusUnauthorized, false, "invalid user_id, must be UUID", nil)
			c.Abort()
			return
		}
		c.Set(contextKey, uid)
		c.Next()
	}
}

// UserID returns the id stored by Require.
func UserID(c *gin.Context) string {
	return c.GetString(contextKey)
}
