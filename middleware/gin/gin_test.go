package gin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gongin "github.com/gin-gonic/gin"

	"github.com/sinuapp/sinu-api/pkg/auth"
)

type fakeVerifier struct {
	claims *auth.Claims
	err    error
	tokens []string
}

func (f *fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Claims, error) {
	f.tokens = append(f.tokens, idToken)
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

func authedRouter(verifier TokenVerifier) *gongin.Engine {
	gongin.SetMode(gongin.TestMode)
	router := gongin.New()
	router.GET("/protected", RequireAuth(verifier), func(c *gongin.Context) {
		c.JSON(http.StatusOK, gongin.H{"uid": UID(c)})
	})
	return router
}

func TestRequireAuth_MissingToken(t *testing.T) {
	router := authedRouter(&fakeVerifier{})

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Header %q: status = %d, want 401", header, w.Code)
		}
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	router := authedRouter(&fakeVerifier{err: errors.New("rejected")})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer stale-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", w.Code)
	}
}

func TestRequireAuth_SetsUID(t *testing.T) {
	verifier := &fakeVerifier{claims: &auth.Claims{UID: "uid-1"}}
	router := authedRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if len(verifier.tokens) != 1 || verifier.tokens[0] != "good-token" {
		t.Errorf("Verifier saw tokens %v", verifier.tokens)
	}
	if body := w.Body.String(); body != `{"uid":"uid-1"}` {
		t.Errorf("Body = %s", body)
	}
}

func TestRequireSchedulerKey(t *testing.T) {
	gongin.SetMode(gongin.TestMode)
	router := gongin.New()
	router.POST("/internal", RequireSchedulerKey("s3cret"), func(c *gongin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"correct key", "s3cret", http.StatusOK},
		{"wrong key", "nope", http.StatusForbidden},
		{"missing key", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			if tt.key != "" {
				req.Header.Set("X-Scheduler-Key", tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireSchedulerKey_PanicsOnEmptySecret(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic for empty secret")
		}
	}()
	RequireSchedulerKey("")
}
