package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("super-secret-jwt-token-with-at-least-32-characters")

func init() {
	gin.SetMode(gin.TestMode)
}

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func validClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":   sub,
		"aud":   "authenticated",
		"iss":   "https://project.example/auth/v1",
		"role":  "authenticated",
		"email": "u1@example.com",
		"exp":   now.Add(10 * time.Minute).Unix(),
		"iat":   now.Unix(),
	}
}

func newHMAC(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewHMACVerifier(testSecret, "https://project.example/auth/v1", "authenticated")
	require.NoError(t, err)
	return v
}

func TestHMACVerifier_Valid(t *testing.T) {
	v := newHMAC(t)
	claims, err := v.Verify(signHS256(t, testSecret, validClaims("u1")))
	require.NoError(t, err)

	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, []string{"authenticated"}, claims.Audience)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.False(t, claims.ExpiresAt.IsZero())
}

func TestHMACVerifier_Rejects(t *testing.T) {
	v := newHMAC(t)

	expired := validClaims("u1")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongAud := validClaims("u1")
	wrongAud["aud"] = "anon"

	noSub := validClaims("")

	noExp := validClaims("u1")
	delete(noExp, "exp")

	tests := map[string]string{
		"wrong secret": signHS256(t, []byte("another-secret-another-secret-xx"), validClaims("u1")),
		"expired":      signHS256(t, testSecret, expired),
		"wrong aud":    signHS256(t, testSecret, wrongAud),
		"missing sub":  signHS256(t, testSecret, noSub),
		"missing exp":  signHS256(t, testSecret, noExp),
		"garbage":      "not.a.jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.Error(t, err)
		})
	}
}

func TestNewHMACVerifier_EmptySecret(t *testing.T) {
	_, err := NewHMACVerifier(nil, "", "")
	assert.Error(t, err)
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(newJWKS(key, "test-key"))
	}))
	t.Cleanup(server.Close)

	v, err := NewJWKSVerifier(server.URL, "", "authenticated")
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("u1"))
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	claims, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)

	// HS256 must not be accepted by a JWKS verifier
	_, err = v.Verify(signHS256(t, testSecret, validClaims("u1")))
	assert.Error(t, err)
}

func serve(t *testing.T, mw gin.HandlerFunc, header string) (int, string) {
	t.Helper()
	router := gin.New()
	router.Use(mw)
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, UID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp.Code, resp.Body.String()
}

func TestMiddleware(t *testing.T) {
	v := newHMAC(t)
	good := "Bearer " + signHS256(t, testSecret, validClaims("u1"))

	code, body := serve(t, Middleware(v, MiddlewareConfig{}), good)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "u1", body)

	code, _ = serve(t, Middleware(v, MiddlewareConfig{}), "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = serve(t, Middleware(v, MiddlewareConfig{}), "Token abc")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = serve(t, Middleware(v, MiddlewareConfig{}), "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMiddleware_AllowAnonymous(t *testing.T) {
	v := newHMAC(t)
	mw := Middleware(v, MiddlewareConfig{AllowAnonymous: true})

	code, body := serve(t, mw, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body)

	code, _ = serve(t, mw, "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, code, "bad tokens are still rejected")
}

func TestMiddleware_DevUID(t *testing.T) {
	code, body := serve(t, Middleware(nil, MiddlewareConfig{DevUID: "local-dev"}), "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "local-dev", body)
}

func TestExtractBearerToken(t *testing.T) {
	token, ok := extractBearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	for _, h := range []string{"Bearer", "Token abc", "", "Bearer   "} {
		_, ok := extractBearerToken(h)
		assert.False(t, ok, "header %q", h)
	}
}

func TestUID_Anonymous(t *testing.T) {
	assert.Empty(t, UID(context.Background()))
	assert.Equal(t, "u1", UID(WithClaims(context.Background(), &Claims{Subject: "u1"})))
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func newJWKS(key *rsa.PrivateKey, kid string) map[string][]jwk {
	return map[string][]jwk{
		"keys": {{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}
}
