package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newService(t *testing.T, cfg config.AuthConfig) *AuthService {
	t.Helper()
	cfg.JWTSecretEnv = "OTR_AUTH_TEST_SECRET"
	t.Setenv("OTR_AUTH_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	svc, err := NewAuthService(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc
}

func TestJWTHandler_RoundTrip(t *testing.T) {
	h := NewJWTHandler("secret", "opentestrig", time.Minute)
	token, err := h.GenerateAccessToken("station-1", "technician")
	require.NoError(t, err)

	claims, err := h.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "station-1", claims.Subject)
	assert.Equal(t, "technician", claims.Role)

	_, err = NewJWTHandler("other", "opentestrig", time.Minute).ValidateAccessToken(token)
	assert.Error(t, err)

	_, err = NewJWTHandler("secret", "someone-else", time.Minute).ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestJWTHandler_Expired(t *testing.T) {
	h := NewJWTHandler("secret", "opentestrig", -time.Minute)
	token, err := h.GenerateAccessToken("station-1", "operator")
	require.NoError(t, err)

	_, err = h.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestAuthService_MachineToken(t *testing.T) {
	gen := NewMachineTokenGenerator()
	mt, err := gen.Generate()
	require.NoError(t, err)
	token, hash := mt.Token, mt.Digest

	keyID, err := gen.KeyID(token)
	require.NoError(t, err)
	assert.Equal(t, mt.KeyID, keyID)
	assert.Equal(t, gen.Digest(token), hash)

	svc := newService(t, config.AuthConfig{
		Enabled: true,
		Issuer:  "opentestrig",
		MachineTokens: []config.MachineTokenConfig{
			{Name: "plc", Hash: hash, Permissions: []string{"operator"}},
		},
	})

	identity, err := svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "machine:plc", identity.Subject)
	assert.True(t, identity.Has(PermOperator))
	assert.False(t, identity.Has(PermTechnician))

	other, err := gen.Generate()
	require.NoError(t, err)
	_, err = svc.Authenticate(other.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMachineTokenGenerator_KeyID(t *testing.T) {
	gen := NewMachineTokenGenerator()
	secret := strings.Repeat("ab", machineSecretSize)
	id := "6f1c2a9e-3d4b-4c5a-9e8f-0a1b2c3d4e5f"

	tests := []struct {
		name  string
		token string
		valid bool
	}{
		{"well formed", "otr_" + id + "_" + secret, true},
		{"wrong prefix", "omc_" + id + "_" + secret, false},
		{"missing secret", "otr_" + id, false},
		{"short secret", "otr_" + id + "_" + secret[:10], false},
		{"secret not hex", "otr_" + id + "_" + strings.Repeat("zz", machineSecretSize), false},
		{"bad key id", "otr_not-a-uuid_" + secret, false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyID, err := gen.KeyID(tt.token)
			if !tt.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, keyID.String())
		})
	}
}

func TestNewAuthService_RejectsBadTokenConfig(t *testing.T) {
	_, err := NewAuthService(config.AuthConfig{
		MachineTokens: []config.MachineTokenConfig{{Name: "short", Hash: "abc"}},
	}, nil)
	assert.Error(t, err)

	_, err = NewAuthService(config.AuthConfig{
		MachineTokens: []config.MachineTokenConfig{{
			Name:        "bad-perm",
			Hash:        "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			Permissions: []string{"root"},
		}},
	}, nil)
	assert.ErrorContains(t, err, "unknown permission")
}

func TestRoleToPermissions(t *testing.T) {
	assert.Equal(t, []Permission{PermOperator}, RoleToPermissions("operator"))
	assert.Equal(t, []Permission{PermOperator, PermTechnician}, RoleToPermissions("technician"))
	assert.Len(t, RoleToPermissions("admin"), 3)
	assert.Equal(t, []Permission{PermOperator}, RoleToPermissions("visitor"))
}

func newRouter(svc *AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(svc.AuthMiddleware())
	r.GET("/status", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/configure", RequirePermission(PermTechnician), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestMiddleware(t *testing.T) {
	svc := newService(t, config.AuthConfig{Enabled: true, Issuer: "opentestrig", AccessTokenTTL: time.Minute})
	router := newRouter(svc)

	operator, err := svc.IssueToken("station-1", "operator")
	require.NoError(t, err)
	technician, err := svc.IssueToken("station-2", "technician")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"missing header", http.MethodGet, "/status", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/status", "Basic abc", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/status", "Bearer abc", http.StatusUnauthorized},
		{"operator status", http.MethodGet, "/status", "Bearer " + operator, http.StatusNoContent},
		{"operator configure", http.MethodPost, "/configure", "Bearer " + operator, http.StatusForbidden},
		{"technician configure", http.MethodPost, "/configure", "Bearer " + technician, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	svc := newService(t, config.AuthConfig{})
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/configure", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestIssueToken_UnknownRole(t *testing.T) {
	svc := newService(t, config.AuthConfig{})
	_, err := svc.IssueToken("x", "superuser")
	assert.Error(t, err)
}
