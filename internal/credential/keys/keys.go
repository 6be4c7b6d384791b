// Package keys provides per-institute Ed25519 signing keys and the signing
// message shared by the issuer and the verification engine.
package keys

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"degreeproof/internal/sentinel"
	"degreeproof/pkg/domain"
)

// PublicKeyPrefix marks the text form of an institute public key.
const PublicKeyPrefix = "ed25519:"

// signatureDomain separates credential signatures from any other use of the key.
const signatureDomain = "degreeproof-sig/v1"

// ErrUnknownInstitute is returned when no key exists for an institute.
var ErrUnknownInstitute = fmt.Errorf("unknown institute: %w", sentinel.ErrNotFound)

// ErrVerifyOnly is returned when a signing key is requested for a public-only entry.
var ErrVerifyOnly = errors.New("institute key is verify-only")

// Provider resolves institute keys.
type Provider interface {
	SigningKey(ctx context.Context, institute domain.InstituteID) (*SigningKey, error)
	PublicKey(ctx context.Context, institute domain.InstituteID) (ed25519.PublicKey, error)
}

// SigningKey is a private key bound to the institute it signs for.
type SigningKey struct {
	institute domain.InstituteID
	private   ed25519.PrivateKey
}

func NewSigningKey(institute domain.InstituteID, private ed25519.PrivateKey) *SigningKey {
	return &SigningKey{institute: institute, private: private}
}

func (k *SigningKey) InstituteID() domain.InstituteID { return k.institute }

func (k *SigningKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

func (k *SigningKey) Public() ed25519.PublicKey {
	return k.private.Public().(ed25519.PublicKey)
}

// Verify checks sig over msg with the institute's public key.
// The bool is false for a bad signature; the error is set only when no key could be resolved.
func Verify(ctx context.Context, p Provider, institute domain.InstituteID, msg, sig []byte) (bool, error) {
	pub, err := p.PublicKey(ctx, institute)
	if err != nil {
		return false, err
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pub, msg, sig), nil
}

// SigningMessage is the byte string signed for a credential:
// domain tag, then length-prefixed record hash, credential id,
// big-endian unix seconds of issuance, and length-prefixed institute id.
func SigningMessage(recordHash []byte, id domain.CredentialID, issuedAt time.Time, institute domain.InstituteID) []byte {
	msg := make([]byte, 0, len(signatureDomain)+len(recordHash)+len(id)+len(institute)+20)
	msg = append(msg, signatureDomain...)
	msg = appendField(msg, recordHash)
	msg = appendField(msg, []byte(id))
	msg = binary.BigEndian.AppendUint64(msg, uint64(issuedAt.Unix()))
	msg = appendField(msg, []byte(institute))
	return msg
}

func appendField(dst, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}

// FormatPublicKey renders "ed25519:" + base64(pub).
func FormatPublicKey(pub ed25519.PublicKey) string {
	return PublicKeyPrefix + base64.StdEncoding.EncodeToString(pub)
}

func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(s), PublicKeyPrefix)
	if !ok {
		return nil, fmt.Errorf("public key must start with %q", PublicKeyPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// ParsePublicKeys parses "<institute>=ed25519:<base64>" entries into a verify-only key set.
func ParsePublicKeys(entries []string) (map[domain.InstituteID]ed25519.PublicKey, error) {
	out := make(map[domain.InstituteID]ed25519.PublicKey, len(entries))
	for _, entry := range entries {
		inst, key, ok := strings.Cut(entry, "=")
		inst = strings.TrimSpace(inst)
		if !ok || inst == "" {
			return nil, fmt.Errorf("public key entry %q must be <institute>=<key>", entry)
		}
		pub, err := ParsePublicKey(key)
		if err != nil {
			return nil, fmt.Errorf("public key for %s: %w", inst, err)
		}
		out[domain.InstituteID(inst)] = pub
	}
	return out, nil
}
