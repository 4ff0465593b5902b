package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Machine tokens let automation clients (a PLC, a lab information system)
// drive the rig without a login. A token looks like
//
//	otr_<key id>_<secret>
//
// The key id is public and names the token in logs. Only the SHA-256 digest
// of the whole token is kept in the config file.
const (
	machineTokenPrefix = "otr_"
	machineSecretSize  = 32
)

var errMalformedMachineToken = errors.New("malformed machine token")

type MachineToken struct {
	KeyID  uuid.UUID
	Token  string
	Digest string
}

type MachineTokenGenerator struct{}

func NewMachineTokenGenerator() *MachineTokenGenerator {
	return &MachineTokenGenerator{}
}

// Generate creates a token. The caller shows Token once and stores Digest.
func (m *MachineTokenGenerator) Generate() (MachineToken, error) {
	secret := make([]byte, machineSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return MachineToken{}, fmt.Errorf("failed to read token secret: %w", err)
	}

	keyID := uuid.New()
	token := machineTokenPrefix + keyID.String() + "_" + hex.EncodeToString(secret)
	return MachineToken{KeyID: keyID, Token: token, Digest: m.Digest(token)}, nil
}

func (m *MachineTokenGenerator) Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// KeyID checks the token layout and returns its public key id.
func (m *MachineTokenGenerator) KeyID(token string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(token, machineTokenPrefix)
	if !ok {
		return uuid.Nil, errMalformedMachineToken
	}
	id, secret, ok := strings.Cut(rest, "_")
	if !ok || len(secret) != 2*machineSecretSize {
		return uuid.Nil, errMalformedMachineToken
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return uuid.Nil, errMalformedMachineToken
	}
	keyID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, errMalformedMachineToken
	}
	return keyID, nil
}
