package middleware

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gov-dx-sandbox/access-broker/shared/utils"
	"github.com/gov-dx-sandbox/access-broker/v1/models"
	authutils "github.com/gov-dx-sandbox/access-broker/v1/utils"
)

// JWKS is the JSON Web Key Set document served by the identity provider
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is a single RSA signing key
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWTAuthConfig configures the JWT authentication middleware
type JWTAuthConfig struct {
	JWKSURL        string
	ExpectedIssuer string
	ValidClientIDs []string
	OrgName        string
	Timeout        time.Duration
	// SkipAuthPaths bypass authentication entirely (health, metrics)
	SkipAuthPaths []string
}

// Validate checks that the config carries everything token validation needs
func (c *JWTAuthConfig) Validate() error {
	if c.JWKSURL == "" {
		return fmt.Errorf("JWKS URL is required")
	}
	if c.ExpectedIssuer == "" {
		return fmt.Errorf("expected issuer is required")
	}
	if len(c.ValidClientIDs) == 0 {
		return fmt.Errorf("at least one valid client ID is required")
	}
	for _, id := range c.ValidClientIDs {
		if id == "" {
			return fmt.Errorf("client IDs must not be empty")
		}
	}
	return nil
}

// JWTAuthMiddleware validates bearer tokens against the identity provider's
// JWKS and attaches the resolved user to the request context
type JWTAuthMiddleware struct {
	config JWTAuthConfig
	client *http.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewJWTAuthMiddleware creates a new instance of JWTAuthMiddleware
func NewJWTAuthMiddleware(config JWTAuthConfig) *JWTAuthMiddleware {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if len(config.SkipAuthPaths) == 0 {
		config.SkipAuthPaths = []string{"/health", "/metrics"}
	}
	return &JWTAuthMiddleware{
		config: config,
		client: &http.Client{Timeout: timeout},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// AuthenticateJWT validates the bearer token and rejects the request with
// 401 on any validation failure
func (m *JWTAuthMiddleware) AuthenticateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, path := range m.config.SkipAuthPaths {
			if r.URL.Path == path {
				next.ServeHTTP(w, r)
				return
			}
		}

		tokenString, err := authutils.ExtractBearerToken(r)
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		claims, err := m.validateToken(tokenString)
		if err != nil {
			slog.Warn("JWT validation failed", "error", err, "path", r.URL.Path)
			utils.RespondWithError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := models.NewAuthenticatedUser(claims)
		if err != nil {
			slog.Warn("JWT carried no usable identity", "error", err)
			utils.RespondWithError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := authutils.SetAuthenticatedUser(r.Context(), user)
		ctx = authutils.SetAuthContext(ctx, &models.AuthContext{User: user, Token: tokenString})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *JWTAuthMiddleware) validateToken(tokenString string) (*models.UserClaims, error) {
	claims := &models.UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return m.publicKey(kid)
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	if claims.Issuer != m.config.ExpectedIssuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if !m.validAudience(claims.Audience) {
		return nil, fmt.Errorf("audience does not match any valid client id")
	}
	return claims, nil
}

func (m *JWTAuthMiddleware) validAudience(audience models.FlexibleStringSlice) bool {
	for _, aud := range audience {
		for _, clientID := range m.config.ValidClientIDs {
			if aud == clientID {
				return true
			}
		}
	}
	return false
}

// publicKey returns the RSA key for kid, refreshing the JWKS on a miss
func (m *JWTAuthMiddleware) publicKey(kid string) (*rsa.PublicKey, error) {
	m.mu.RLock()
	key, ok := m.keys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := m.refreshKeys(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok = m.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key found for kid %q", kid)
	}
	return key, nil
}

func (m *JWTAuthMiddleware) refreshKeys() error {
	resp, err := m.client.Get(m.config.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		key, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			slog.Warn("skipping unparsable JWK", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = key
	}

	m.mu.Lock()
	m.keys = keys
	m.mu.Unlock()
	return nil
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
