package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"degreeproof/pkg/domain"
)

// derivationSalt versions the seed derivation.
const derivationSalt = "degreeproof-keys/v1"

// MinMasterSecretLen is the shortest master secret DerivedKeyring accepts.
const MinMasterSecretLen = 32

// DerivedKeyring derives each institute's key from one master secret with HKDF-SHA256.
// Institutes listed in public are verify-only: they are resolved for
// verification but never derived, so credentials imported from another
// deployment stay verifiable without the master secret that signed them.
type DerivedKeyring struct {
	master []byte
	public map[domain.InstituteID]ed25519.PublicKey

	mu    sync.RWMutex
	cache map[domain.InstituteID]*SigningKey
}

func NewDerivedKeyring(masterSecret []byte, public map[domain.InstituteID]ed25519.PublicKey) (*DerivedKeyring, error) {
	if len(masterSecret) < MinMasterSecretLen {
		return nil, fmt.Errorf("master secret must be at least %d bytes", MinMasterSecretLen)
	}
	if public == nil {
		public = map[domain.InstituteID]ed25519.PublicKey{}
	}
	return &DerivedKeyring{
		master: append([]byte(nil), masterSecret...),
		public: public,
		cache:  make(map[domain.InstituteID]*SigningKey),
	}, nil
}

func (k *DerivedKeyring) SigningKey(_ context.Context, institute domain.InstituteID) (*SigningKey, error) {
	if institute == "" {
		return nil, ErrUnknownInstitute
	}
	if _, ok := k.public[institute]; ok {
		return nil, ErrVerifyOnly
	}

	k.mu.RLock()
	key, ok := k.cache[institute]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}

	seed, err := DeriveSeed(k.master, institute)
	if err != nil {
		return nil, err
	}
	key = NewSigningKey(institute, ed25519.NewKeyFromSeed(seed))

	k.mu.Lock()
	k.cache[institute] = key
	k.mu.Unlock()
	return key, nil
}

func (k *DerivedKeyring) PublicKey(ctx context.Context, institute domain.InstituteID) (ed25519.PublicKey, error) {
	if pub, ok := k.public[institute]; ok {
		return pub, nil
	}
	key, err := k.SigningKey(ctx, institute)
	if err != nil {
		return nil, err
	}
	return key.Public(), nil
}

// DeriveSeed returns the Ed25519 seed for an institute.
func DeriveSeed(master []byte, institute domain.InstituteID) ([]byte, error) {
	r := hkdf.New(sha256.New, master, []byte(derivationSalt), []byte("institute:"+institute.String()))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive institute seed: %w", err)
	}
	return seed, nil
}

// StaticKeyring holds explicitly provisioned keys. Used by tests and tooling.
type StaticKeyring struct {
	mu      sync.RWMutex
	signing map[domain.InstituteID]*SigningKey
	public  map[domain.InstituteID]ed25519.PublicKey
}

func NewStaticKeyring() *StaticKeyring {
	return &StaticKeyring{
		signing: make(map[domain.InstituteID]*SigningKey),
		public:  make(map[domain.InstituteID]ed25519.PublicKey),
	}
}

// Generate creates and stores a fresh key for the institute.
func (k *StaticKeyring) Generate(institute domain.InstituteID, rand io.Reader) (*SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generate institute key: %w", err)
	}
	key := NewSigningKey(institute, priv)
	k.Add(key)
	return key, nil
}

func (k *StaticKeyring) Add(key *SigningKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signing[key.InstituteID()] = key
	k.public[key.InstituteID()] = key.Public()
}

func (k *StaticKeyring) AddPublic(institute domain.InstituteID, pub ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.public[institute] = pub
}

func (k *StaticKeyring) SigningKey(_ context.Context, institute domain.InstituteID) (*SigningKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.signing[institute]; ok {
		return key, nil
	}
	if _, ok := k.public[institute]; ok {
		return nil, ErrVerifyOnly
	}
	return nil, ErrUnknownInstitute
}

func (k *StaticKeyring) PublicKey(_ context.Context, institute domain.InstituteID) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pub, ok := k.public[institute]; ok {
		return pub, nil
	}
	return nil, ErrUnknownInstitute
}

// IsUnknownInstitute reports whether err means no key exists for the institute.
func IsUnknownInstitute(err error) bool {
	return errors.Is(err, ErrUnknownInstitute)
}

var (
	_ Provider = (*DerivedKeyring)(nil)
	_ Provider = (*StaticKeyring)(nil)
)
