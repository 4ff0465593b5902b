package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject     string
	Role        string
	Permissions []Permission
}

func (i Identity) Has(required Permission) bool {
	for _, p := range i.Permissions {
		if p == required {
			return true
		}
	}
	return false
}

type machineToken struct {
	name        string
	permissions []Permission
}

type AuthService struct {
	enabled         bool
	jwtHandler      *JWTHandler
	machineTokenGen *MachineTokenGenerator
	machineTokens   map[string]machineToken
	logger          *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) (*AuthService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = time.Hour
	}

	tokens := make(map[string]machineToken, len(cfg.MachineTokens))
	for _, t := range cfg.MachineTokens {
		if len(t.Hash) != 64 {
			return nil, fmt.Errorf("machine token %q: hash must be a hex SHA-256 digest", t.Name)
		}
		perms := make([]Permission, 0, len(t.Permissions))
		for _, p := range t.Permissions {
			perm, err := ParsePermission(p)
			if err != nil {
				return nil, fmt.Errorf("machine token %q: %w", t.Name, err)
			}
			perms = append(perms, perm)
		}
		tokens[strings.ToLower(t.Hash)] = machineToken{name: t.Name, permissions: perms}
	}

	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready", zap.String("env", cfg.JWTSecretEnv))
	}

	return &AuthService{
		enabled:         cfg.Enabled,
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), cfg.Issuer, cfg.AccessTokenTTL),
		machineTokenGen: NewMachineTokenGenerator(),
		machineTokens:   tokens,
		logger:          logger,
	}, nil
}

func (a *AuthService) Enabled() bool { return a.enabled }

// IssueToken signs an access token for subject with role.
func (a *AuthService) IssueToken(subject, role string) (string, error) {
	if _, err := ParseRole(role); err != nil {
		return "", err
	}
	return a.jwtHandler.GenerateAccessToken(subject, role)
}

// Authenticate accepts either a JWT access token or a configured machine token.
func (a *AuthService) Authenticate(token string) (Identity, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return Identity{
			Subject:     claims.Subject,
			Role:        claims.Role,
			Permissions: RoleToPermissions(claims.Role),
		}, nil
	}

	keyID, err := a.machineTokenGen.KeyID(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	mt, ok := a.machineTokens[a.machineTokenGen.Digest(token)]
	if !ok {
		a.logger.Debug("Unknown machine token", zap.String("key_id", keyID.String()))
		return Identity{}, ErrInvalidToken
	}
	return Identity{Subject: "machine:" + mt.name, Permissions: mt.permissions}, nil
}

// Anonymous is the identity used when authentication is disabled.
func Anonymous() Identity {
	return Identity{Subject: "anonymous", Role: "admin", Permissions: RoleToPermissions("admin")}
}

func RoleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func ParseRole(role string) (Permission, error) {
	return ParsePermission(role)
}

func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case PermOperator, PermTechnician, PermAdmin:
		return p, nil
	default:
		return "", fmt.Errorf("unknown permission %q", s)
	}
}
