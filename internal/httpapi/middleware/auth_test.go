package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/webchat/internal/auth"
	"github.com/suPer8Hu/webchat/internal/models"
)

type stubAuthenticator struct {
	err error
}

func (s stubAuthenticator) Authenticate(ctx context.Context, token string, client auth.Client) (*models.User, *models.UserSession, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return &models.User{ID: 7}, &models.UserSession{ID: "s1"}, nil
}

func serveAuth(a Authenticator, header string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthRequired(a), func(c *gin.Context) {
		id, _ := UserIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"id": id})
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired_StatusByError(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		status int
		code   string
	}{
		{"missing token", "", nil, http.StatusUnauthorized, `"code":40101`},
		{"invalid session", "Bearer x", auth.ErrSessionInvalid, http.StatusUnauthorized, `"code":40102`},
		{"store failure", "Bearer x", errors.New("connection refused"), http.StatusInternalServerError, `"code":50030`},
		{"ok", "Bearer x", nil, http.StatusOK, `"id":7`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveAuth(stubAuthenticator{err: tt.err}, tt.header)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}
