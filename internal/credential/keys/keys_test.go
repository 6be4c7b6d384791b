package keys

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"degreeproof/internal/sentinel"
	"degreeproof/pkg/domain"
)

type KeysSuite struct {
	suite.Suite
	ctx    context.Context
	master []byte
}

func TestKeysSuite(t *testing.T) {
	suite.Run(t, new(KeysSuite))
}

func (s *KeysSuite) SetupTest() {
	s.ctx = context.Background()
	s.master = bytes.Repeat([]byte{7}, MinMasterSecretLen)
}

func (s *KeysSuite) TestDerivedKeyring() {
	ring, err := NewDerivedKeyring(s.master, nil)
	s.Require().NoError(err)

	s.Run("derivation is stable per institute", func() {
		k1, err := ring.SigningKey(s.ctx, "I1")
		s.Require().NoError(err)
		other, err := NewDerivedKeyring(s.master, nil)
		s.Require().NoError(err)
		k2, err := other.SigningKey(s.ctx, "I1")
		s.Require().NoError(err)
		s.Equal(k1.Public(), k2.Public())
	})

	s.Run("institutes get distinct keys", func() {
		k1, _ := ring.SigningKey(s.ctx, "I1")
		k2, _ := ring.SigningKey(s.ctx, "I2")
		s.NotEqual(k1.Public(), k2.Public())
	})

	s.Run("empty institute is unknown", func() {
		_, err := ring.SigningKey(s.ctx, "")
		s.True(IsUnknownInstitute(err))
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("short master secret rejected", func() {
		_, err := NewDerivedKeyring([]byte("short"), nil)
		s.Error(err)
	})
}

func (s *KeysSuite) TestDerivedKeyringVerifyOnly() {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	ring, err := NewDerivedKeyring(s.master, map[domain.InstituteID]ed25519.PublicKey{"LEGACY": pub})
	s.Require().NoError(err)

	_, err = ring.SigningKey(s.ctx, "LEGACY")
	s.ErrorIs(err, ErrVerifyOnly)

	got, err := ring.PublicKey(s.ctx, "LEGACY")
	s.Require().NoError(err)
	s.Equal(pub, got)
}

func (s *KeysSuite) TestSignAndVerify() {
	ring := NewStaticKeyring()
	key, err := ring.Generate("I1", rand.Reader)
	s.Require().NoError(err)

	hash := bytes.Repeat([]byte{0xaa}, 34)
	issued := time.Unix(1_700_000_000, 0)
	msg := SigningMessage(hash, "cred_00000000000000000000000000000001", issued, "I1")
	sig := key.Sign(msg)

	ok, err := Verify(s.ctx, ring, "I1", msg, sig)
	s.Require().NoError(err)
	s.True(ok)

	s.Run("any field change breaks the signature", func() {
		variants := [][]byte{
			SigningMessage(append([]byte{0xab}, hash[1:]...), "cred_00000000000000000000000000000001", issued, "I1"),
			SigningMessage(hash, "cred_00000000000000000000000000000002", issued, "I1"),
			SigningMessage(hash, "cred_00000000000000000000000000000001", issued.Add(time.Second), "I1"),
			SigningMessage(hash, "cred_00000000000000000000000000000001", issued, "I2"),
		}
		for _, v := range variants {
			ok, err := Verify(s.ctx, ring, "I1", v, sig)
			s.Require().NoError(err)
			s.False(ok)
		}
	})

	s.Run("truncated signature is invalid, not an error", func() {
		ok, err := Verify(s.ctx, ring, "I1", msg, sig[:10])
		s.NoError(err)
		s.False(ok)
	})

	s.Run("unknown institute is an error", func() {
		_, err := Verify(s.ctx, ring, "NOPE", msg, sig)
		s.True(IsUnknownInstitute(err))
	})
}

func (s *KeysSuite) TestSigningMessageFieldBoundaries() {
	a := SigningMessage([]byte("ab"), "c", time.Unix(0, 0), "I")
	b := SigningMessage([]byte("a"), "bc", time.Unix(0, 0), "I")
	s.NotEqual(a, b)
}

func (s *KeysSuite) TestPublicKeyText() {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)

	text := FormatPublicKey(pub)
	parsed, err := ParsePublicKey(text)
	s.Require().NoError(err)
	s.Equal(pub, parsed)

	_, err = ParsePublicKey("rsa:AAAA")
	s.Error(err)
	_, err = ParsePublicKey("ed25519:AAAA")
	s.Error(err)
}

func (s *KeysSuite) TestStaticKeyringPublicOnly() {
	ring := NewStaticKeyring()
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	ring.AddPublic("I9", pub)

	_, err := ring.SigningKey(s.ctx, "I9")
	s.ErrorIs(err, ErrVerifyOnly)
	_, err = ring.SigningKey(s.ctx, "I10")
	s.True(IsUnknownInstitute(err))
}

func (s *KeysSuite) TestParsePublicKeys() {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)

	set, err := ParsePublicKeys([]string{"I9=" + FormatPublicKey(pub)})
	s.Require().NoError(err)
	s.Equal(pub, set["I9"])

	empty, err := ParsePublicKeys(nil)
	s.Require().NoError(err)
	s.Empty(empty)

	_, err = ParsePublicKeys([]string{FormatPublicKey(pub)})
	s.Error(err)
	_, err = ParsePublicKeys([]string{"I9=ed25519:AAAA"})
	s.Error(err)
}
