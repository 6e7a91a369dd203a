package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NagabhushanAdiga/shop-e/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		actor, ok := requestctx.ActorFrom(r.Context())
		require.True(t, ok)
		assert.Equal(t, identity.UID, actor.UserID)
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireUserExtractsIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"email":        "asha@example.com",
			"name":         "Asha",
			"phone_number": "+919800000000",
		},
	}}
	authn := NewAuthenticator(verifier)

	rec, identity := serve(t, authn.RequireUser(), "Bearer token-abc")

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "token-abc", verifier.received)
	assert.Equal(t, "uid-123", identity.UID)
	assert.Equal(t, "Asha", identity.Name)
	assert.Equal(t, []string{RoleCustomer}, identity.Roles)
	assert.False(t, identity.IsAdmin())
}

func TestRequireAdmin(t *testing.T) {
	cases := map[string]struct {
		claims map[string]any
		status int
	}{
		"string claim": {claims: map[string]any{"role": "Admin"}, status: http.StatusNoContent},
		"list claim":   {claims: map[string]any{"role": []any{"customer", "admin"}}, status: http.StatusNoContent},
		"map claim":    {claims: map[string]any{"role": map[string]any{"admin": true}}, status: http.StatusNoContent},
		"customer":     {claims: map[string]any{"role": "customer"}, status: http.StatusForbidden},
		"no claim":     {claims: map[string]any{}, status: http.StatusForbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: tc.claims}})
			rec, _ := serve(t, authn.RequireAdmin(), "Bearer token")
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRequireUserRejectsBadCredentials(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("signature mismatch")})

	rec, _ := serve(t, authn.RequireUser(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, authn.RequireUser(), "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, authn.RequireUser(), "Bearer forged")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_token", body["error"])

	rec, _ = serve(t, NewAuthenticator(nil).RequireUser(), "Bearer token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
