package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/pipeline-platform/internal/auth"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
)

func init() { gin.SetMode(gin.TestMode) }

type loader map[uint64]permission.Subject

func (l loader) Load(_ context.Context, id uint64) (permission.Subject, error) {
	s, ok := l[id]
	if !ok {
		return permission.Subject{}, errors.New("no such user")
	}
	return s, nil
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(Recovery(zerolog.Nop()), RequestID())
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	g := r.Group("/", AuthRequired("secret"), LoadSubject(loader{7: {ID: 7, Username: "alice"}}))
	g.GET("/who", func(c *gin.Context) {
		subj, _ := Subject(c)
		c.String(http.StatusOK, subj.Username)
	})
	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := newEngine()
	good, _ := auth.SignJWT(7, "secret", time.Hour)
	stranger, _ := auth.SignJWT(8, "secret", time.Hour)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"no token", "/who", "", http.StatusUnauthorized},
		{"bad token", "/who", "garbage", http.StatusUnauthorized},
		{"unknown user", "/who", stranger, http.StatusUnauthorized},
		{"header", "/who", good, http.StatusOK},
		{"query", "/who?token=" + good, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.path, tt.token)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	w := do(newEngine(), "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Contains(t, w.Body.String(), `"code":50000`)
}
