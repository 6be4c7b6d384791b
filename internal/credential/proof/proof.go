// Package proof encodes credentials into the compact, versioned payload
// carried by QR codes and decodes presented payloads for verification.
//
// Binary envelope, version 1:
//
//	"DP" | version u8 | len u8 + credential id | len u8 + record hash |
//	len u8 + signature | issued_at i64 BE (unix seconds) | len u8 + institute id
//
// The text form is the multibase base32-upper encoding of the envelope.
package proof

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/multiformats/go-multibase"

	"degreeproof/internal/credential/models"
	"degreeproof/pkg/domain"
)

const (
	// Version is the only payload version this build emits and accepts.
	Version byte = 1
	// MaxSize bounds an encoded envelope.
	MaxSize = 512
	// MaxTextSize bounds the text form before decoding.
	MaxTextSize = 2 * MaxSize

	maxField = 255
)

var magic = []byte("DP")

// TextEncoding is the multibase used for the text form. Its alphabet fits the
// QR alphanumeric mode.
const TextEncoding = multibase.Base32Upper

// Reasons reported by DecodeError.
const (
	ReasonEmpty        = "empty"
	ReasonOversized    = "oversized"
	ReasonBadMagic     = "bad_magic"
	ReasonVersion      = "unsupported_version"
	ReasonTruncated    = "truncated"
	ReasonTrailing     = "trailing_bytes"
	ReasonCredentialID = "invalid_credential_id"
	ReasonEmptyField   = "empty_field"
	ReasonTextEncoding = "invalid_text_encoding"
)

// ErrUnsupportedVersion matches decode failures caused by an unknown version byte.
var ErrUnsupportedVersion = errors.New("unsupported proof version")

// ErrMalformed matches every DecodeError.
var ErrMalformed = errors.New("malformed proof payload")

// DecodeError describes why a presented payload was rejected.
type DecodeError struct {
	Reason  string
	Version byte
	Detail  string
}

func (e *DecodeError) Error() string {
	msg := "malformed proof payload: " + e.Reason
	if e.Reason == ReasonVersion {
		msg = fmt.Sprintf("%s %d", msg, e.Version)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return true
	case ErrUnsupportedVersion:
		return e.Reason == ReasonVersion
	}
	return false
}

// Payload is the decoded content of a proof.
type Payload struct {
	Version      byte
	CredentialID domain.CredentialID
	RecordHash   []byte
	Signature    []byte
	IssuedAt     time.Time
	InstituteID  domain.InstituteID
}

// PayloadOf returns the payload a credential encodes to.
func PayloadOf(c models.Credential) Payload {
	return Payload{
		Version:      Version,
		CredentialID: c.ID,
		RecordHash:   bytes.Clone(c.RecordHash),
		Signature:    bytes.Clone(c.Signature),
		IssuedAt:     time.Unix(c.IssuedAt.Unix(), 0).UTC(),
		InstituteID:  c.InstituteID,
	}
}

// Encode renders the credential's binary envelope.
func Encode(c models.Credential) ([]byte, error) {
	return EncodePayload(PayloadOf(c))
}

// EncodePayload renders p regardless of p.Version; tests use it to craft foreign versions.
func EncodePayload(p Payload) ([]byte, error) {
	fields := []struct {
		name  string
		value []byte
	}{
		{"credential_id", []byte(p.CredentialID)},
		{"record_hash", p.RecordHash},
		{"signature", p.Signature},
		{"institute_id", []byte(p.InstituteID)},
	}
	for _, f := range fields {
		if len(f.value) == 0 {
			return nil, fmt.Errorf("encode proof: %s is empty", f.name)
		}
		if len(f.value) > maxField {
			return nil, fmt.Errorf("encode proof: %s exceeds %d bytes", f.name, maxField)
		}
	}

	buf := make([]byte, 0, 64+len(p.RecordHash)+len(p.Signature))
	buf = append(buf, magic...)
	buf = append(buf, p.Version)
	buf = appendField(buf, []byte(p.CredentialID))
	buf = appendField(buf, p.RecordHash)
	buf = appendField(buf, p.Signature)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.IssuedAt.Unix()))
	buf = appendField(buf, []byte(p.InstituteID))
	if len(buf) > MaxSize {
		return nil, fmt.Errorf("encode proof: %d bytes exceeds %d", len(buf), MaxSize)
	}
	return buf, nil
}

func appendField(dst, v []byte) []byte {
	dst = append(dst, byte(len(v)))
	return append(dst, v...)
}

// Decode parses a binary envelope. Any failure is a *DecodeError.
func Decode(b []byte) (Payload, error) {
	switch {
	case len(b) == 0:
		return Payload{}, &DecodeError{Reason: ReasonEmpty}
	case len(b) > MaxSize:
		return Payload{}, &DecodeError{Reason: ReasonOversized, Detail: fmt.Sprintf("%d bytes", len(b))}
	case len(b) < len(magic)+1:
		return Payload{}, &DecodeError{Reason: ReasonTruncated, Detail: "header"}
	case !bytes.Equal(b[:len(magic)], magic):
		return Payload{}, &DecodeError{Reason: ReasonBadMagic}
	}
	if v := b[len(magic)]; v != Version {
		return Payload{}, &DecodeError{Reason: ReasonVersion, Version: v}
	}

	r := reader{buf: b[len(magic)+1:]}
	rawID := r.field("credential_id")
	hash := r.field("record_hash")
	sig := r.field("signature")
	issued := r.int64("issued_at")
	institute := r.field("institute_id")
	if r.err != nil {
		return Payload{}, r.err
	}
	if len(r.buf) != 0 {
		return Payload{}, &DecodeError{Reason: ReasonTrailing, Detail: fmt.Sprintf("%d bytes", len(r.buf))}
	}

	id, err := domain.ParseCredentialID(string(rawID))
	if err != nil {
		return Payload{}, &DecodeError{Reason: ReasonCredentialID, Detail: err.Error()}
	}

	return Payload{
		Version:      Version,
		CredentialID: id,
		RecordHash:   hash,
		Signature:    sig,
		IssuedAt:     time.Unix(issued, 0).UTC(),
		InstituteID:  domain.InstituteID(institute),
	}, nil
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) field(name string) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < 1 {
		r.err = &DecodeError{Reason: ReasonTruncated, Detail: name}
		return nil
	}
	n := int(r.buf[0])
	if n == 0 {
		r.err = &DecodeError{Reason: ReasonEmptyField, Detail: name}
		return nil
	}
	if len(r.buf) < 1+n {
		r.err = &DecodeError{Reason: ReasonTruncated, Detail: name}
		return nil
	}
	v := bytes.Clone(r.buf[1 : 1+n])
	r.buf = r.buf[1+n:]
	return v
}

func (r *reader) int64(name string) int64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.err = &DecodeError{Reason: ReasonTruncated, Detail: name}
		return 0
	}
	v := int64(binary.BigEndian.Uint64(r.buf[:8]))
	r.buf = r.buf[8:]
	return v
}

// EncodeText renders the envelope as multibase base32-upper text.
func EncodeText(c models.Credential) (string, error) {
	return EncodePayloadText(PayloadOf(c))
}

// EncodePayloadText renders p in the text form.
func EncodePayloadText(p Payload) (string, error) {
	raw, err := EncodePayload(p)
	if err != nil {
		return "", err
	}
	return multibase.Encode(TextEncoding, raw)
}

// DecodeText accepts any multibase encoding of an envelope.
func DecodeText(s string) (Payload, error) {
	raw, err := TextToBinary(s)
	if err != nil {
		return Payload{}, err
	}
	return Decode(raw)
}

// TextToBinary strips the multibase layer.
func TextToBinary(s string) ([]byte, error) {
	if s == "" {
		return nil, &DecodeError{Reason: ReasonEmpty}
	}
	if len(s) > MaxTextSize {
		return nil, &DecodeError{Reason: ReasonOversized, Detail: fmt.Sprintf("%d characters", len(s))}
	}
	_, raw, err := multibase.Decode(s)
	if err != nil {
		return nil, &DecodeError{Reason: ReasonTextEncoding, Detail: err.Error()}
	}
	return raw, nil
}
