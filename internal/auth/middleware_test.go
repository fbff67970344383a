package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRequireIDToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newLocalManager(t)
	tok, err := m.Issue(time.Now(), "u1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := gin.New()
	r.GET("/me", RequireIDToken(m), func(c *gin.Context) {
		uid, err := UID(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, uid)
	})

	cases := []struct {
		name   string
		header string
		query  string
		want   int
		body   string
	}{
		{name: "bearer", header: "Bearer " + tok, want: http.StatusOK, body: "u1"},
		{name: "query", query: "?idToken=" + tok, want: http.StatusOK, body: "u1"},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer nope", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, w.Code, w.Body.String())
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("unexpected body %q", w.Body.String())
			}
		})
	}
}
