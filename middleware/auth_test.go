package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signed(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func actorEcho(t *testing.T, got *models.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := ActorFromContext(r.Context())
		require.NoError(t, err)
		*got = actor
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	valid := jwt.MapClaims{"user_id": "223344556677889900", "role": "member", "exp": time.Now().Add(time.Hour).Unix()}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid token", header: "Bearer " + signed(t, valid, jwt.SigningMethodHS256, testSecret), status: http.StatusNoContent},
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signed(t, valid, jwt.SigningMethodHS256, []byte("other")), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signed(t, jwt.MapClaims{"user_id": "1", "exp": time.Now().Add(-time.Minute).Unix()}, jwt.SigningMethodHS256, testSecret), status: http.StatusUnauthorized},
		{name: "missing user id", header: "Bearer " + signed(t, jwt.MapClaims{"role": "admin"}, jwt.SigningMethodHS256, testSecret), status: http.StatusUnauthorized},
		{name: "alg none", header: "Bearer " + signed(t, valid, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType), status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.Actor
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			Authenticate(testSecret)(actorEcho(t, &got)).ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, models.OwnerID(223344556677889900), got.ID)
				assert.False(t, got.IsAdmin)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/resync", nil)
	rr := httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rr, req.WithContext(ContextWithActor(req.Context(), models.Actor{ID: 5})))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rr, req.WithContext(ContextWithActor(req.Context(), models.Actor{ID: 5, IsAdmin: true})))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUserIDFromClaims_NumericClaim(t *testing.T) {
	id, err := userIDFromClaims(jwt.MapClaims{"user_id": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, models.OwnerID(42), id)

	_, err = userIDFromClaims(jwt.MapClaims{"user_id": 4.5})
	assert.Error(t, err)
	_, err = userIDFromClaims(jwt.MapClaims{"user_id": "-3"})
	assert.Error(t, err)
}
