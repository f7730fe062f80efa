// Package middleware holds the gin middleware of the API.
package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/auth"
	"github.com/suPer8Hu/pipeline-platform/internal/common"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
)

const (
	UserIDKey    = "user_id"
	SubjectKey   = "subject"
	RequestIDKey = "request_id"
)

// Recovery turns a panic into a 500 envelope and logs the stack.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString(RequestIDKey)).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				c.Abort()
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}

// RequestID propagates X-Request-Id, generating one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// AuthRequired checks the bearer token and stores the user id. EventSource
// clients cannot set headers, so a "token" query parameter is accepted too.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == c.GetHeader("Authorization") {
			token = c.Query("token")
		}
		if token == "" {
			c.Abort()
			common.Fail(c, http.StatusUnauthorized, 40100, "missing token")
			return
		}
		uid, err := auth.ParseJWT(token, secret)
		if err != nil {
			c.Abort()
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

type SubjectLoader interface {
	Load(ctx context.Context, userID uint64) (permission.Subject, error)
}

// LoadSubject resolves the authenticated user into a permission subject.
// Must run after AuthRequired.
func LoadSubject(subjects SubjectLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetUint64(UserIDKey)
		subj, err := subjects.Load(c.Request.Context(), uid)
		if err != nil {
			c.Abort()
			common.Fail(c, http.StatusUnauthorized, 40102, "unknown user")
			return
		}
		c.Set(SubjectKey, subj)
		c.Next()
	}
}

// Subject returns the subject stored by LoadSubject.
func Subject(c *gin.Context) (permission.Subject, bool) {
	v, ok := c.Get(SubjectKey)
	if !ok {
		return permission.Subject{}, false
	}
	subj, ok := v.(permission.Subject)
	return subj, ok
}
