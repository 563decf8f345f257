package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gsarma/sentinel/internal/store"
)

var testSecret = strings.Repeat("s", 32)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManager_ShortSecret(t *testing.T) {
	if _, err := NewManager("short", 0); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(t)
	u := &store.User{ID: uuid.New(), Username: "alice", Email: "alice@example.com"}

	raw, exp, err := m.Issue(u)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if d := time.Until(exp); d < 59*time.Minute || d > time.Hour {
		t.Errorf("unexpected expiry %v", exp)
	}

	claims, err := m.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != u.ID.String() || claims.Username != "alice" || claims.Email != "alice@example.com" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestParse_Expired(t *testing.T) {
	m := newTestManager(t)
	raw, _, err := m.Issue(&store.User{ID: uuid.New()})
	if err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := m.Parse(raw); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParse_WrongSecretAndAlgorithm(t *testing.T) {
	m := newTestManager(t)
	other, _ := NewManager(strings.Repeat("x", 32), time.Hour)
	raw, _, _ := other.Issue(&store.User{ID: uuid.New()})
	if _, err := m.Parse(raw); err == nil {
		t.Error("token signed with another secret must be rejected")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID:           uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := m.Parse(unsigned); err == nil {
		t.Error("alg=none must be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	m := newTestManager(t)
	userID := uuid.New()
	raw, _, _ := m.Issue(&store.User{ID: userID, Username: "bob"})

	r := gin.New()
	r.GET("/me", m.Middleware(), func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + raw, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if tc.want == http.StatusOK && w.Body.String() != userID.String() {
				t.Errorf("expected user id %s, got %s", userID, w.Body.String())
			}
		})
	}
}

func TestUserID_NoSession(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if _, ok := UserID(c); ok {
		t.Error("expected no user without a session")
	}
}
