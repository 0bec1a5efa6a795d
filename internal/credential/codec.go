// Package credential encodes ticket claims into the signed payload embedded
// in a ticket's QR code, and verifies payloads presented at the gate.
//
// Wire format, fields separated by '.':
//
//	T1.<ticketId>.<eventId>.<holderId>.<class>.<issuedAt>.<nonce>.<tag>
//
// ticketId, eventId, holderId, nonce and tag are unpadded base64url. class is
// one of regular, vip, student, child. issuedAt is Unix seconds in decimal
// without sign or leading zeros. nonce is 16 random bytes and tag is a 32 byte
// keyed BLAKE3 hash over every byte before the final '.'.
package credential

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"ticket-gate/internal/status"
	"ticket-gate/models"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

const (
	Version   = "T1"
	NonceSize = 16
	TagSize   = 32

	// MinSecretSize is the shortest master secret accepted for key derivation.
	MinSecretSize = 32

	fieldCount = 8
	separator  = '.'
)

var (
	hkdfInfo  = []byte("ticket-gate/credential/key/v1")
	tagDomain = []byte("ticket-gate/credential/v1\x00")

	b64 = base64.RawURLEncoding.Strict()
)

// Claims are the issuer-supplied fields of a credential.
type Claims struct {
	TicketID string
	EventID  string
	HolderID string
	Class    models.TicketClass
	IssuedAt time.Time
}

// Codec is safe for concurrent use; its key never changes after construction.
type Codec struct {
	key  [32]byte
	rand io.Reader
}

// NewCodec derives the MAC key from the service's master secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("credential: secret must be at least %d bytes, got %d", MinSecretSize, len(secret))
	}

	c := &Codec{rand: rand.Reader}
	reader := hkdf.New(sha256.New, secret, nil, hkdfInfo)
	if _, err := io.ReadFull(reader, c.key[:]); err != nil {
		return nil, fmt.Errorf("credential: key derivation failed: %w", err)
	}
	return c, nil
}

// Issue signs the claims under a fresh nonce and returns the credential
// together with its canonical serialized form.
func (c *Codec) Issue(claims Claims) (*models.TicketCredential, []byte, error) {
	if err := claims.validate(); err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, nil, fmt.Errorf("credential: generating nonce: %w", err)
	}

	cred := &models.TicketCredential{
		TicketID: claims.TicketID,
		EventID:  claims.EventID,
		HolderID: claims.HolderID,
		Class:    claims.Class,
		IssuedAt: time.Unix(claims.IssuedAt.Unix(), 0).UTC(),
		Nonce:    nonce,
	}

	body := appendBody(nil, cred)
	cred.Signature = c.tag(body)

	payload := make([]byte, 0, len(body)+1+b64.EncodedLen(TagSize))
	payload = append(payload, body...)
	payload = append(payload, separator)
	payload = b64.AppendEncode(payload, cred.Signature)

	return cred, payload, nil
}

// Decode parses and authenticates a payload. It has no side effects.
func (c *Codec) Decode(raw []byte) (*models.TicketCredential, error) {
	cred, body, err := parse(raw)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare(c.tag(body), cred.Signature) != 1 {
		return nil, status.ErrInvalidSignature
	}
	return cred, nil
}

func (c *Codec) tag(body []byte) []byte {
	hasher, err := blake3.NewKeyed(c.key[:])
	if err != nil {
		panic("credential: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(tagDomain)
	hasher.Write(body)
	return hasher.Sum(nil)
}

func (cl Claims) validate() error {
	switch {
	case cl.TicketID == "":
		return errors.New("credential: ticket id is required")
	case cl.EventID == "":
		return errors.New("credential: event id is required")
	case cl.HolderID == "":
		return errors.New("credential: holder id is required")
	case !cl.Class.Valid():
		return fmt.Errorf("credential: unknown ticket class %q", cl.Class)
	case cl.IssuedAt.Unix() <= 0:
		return errors.New("credential: issued-at must be after the Unix epoch")
	}
	return nil
}

// appendBody writes every field except the tag, in wire order.
func appendBody(dst []byte, cred *models.TicketCredential) []byte {
	dst = append(dst, Version...)
	for _, field := range []string{cred.TicketID, cred.EventID, cred.HolderID} {
		dst = append(dst, separator)
		dst = b64.AppendEncode(dst, []byte(field))
	}
	dst = append(dst, separator)
	dst = append(dst, cred.Class...)
	dst = append(dst, separator)
	dst = strconv.AppendInt(dst, cred.IssuedAt.Unix(), 10)
	dst = append(dst, separator)
	dst = b64.AppendEncode(dst, cred.Nonce)
	return dst
}

// parse splits a payload into its credential and the signed body. Any input
// that would not be reproduced byte for byte by appendBody is rejected.
func parse(raw []byte) (*models.TicketCredential, []byte, error) {
	parts := bytes.Split(raw, []byte{separator})
	if len(parts) != fieldCount || string(parts[0]) != Version {
		return nil, nil, status.ErrMalformedPayload
	}

	var ids [3]string
	for i := range ids {
		field, ok := decodeField(parts[i+1])
		if !ok || len(field) == 0 {
			return nil, nil, status.ErrMalformedPayload
		}
		ids[i] = string(field)
	}

	class, err := models.ParseTicketClass(string(parts[4]))
	if err != nil {
		return nil, nil, status.ErrMalformedPayload
	}

	issuedAt, err := parseEpoch(parts[5])
	if err != nil {
		return nil, nil, status.ErrMalformedPayload
	}

	nonce, ok := decodeField(parts[6])
	if !ok || len(nonce) != NonceSize {
		return nil, nil, status.ErrMalformedPayload
	}

	sig, ok := decodeField(parts[7])
	if !ok || len(sig) != TagSize {
		return nil, nil, status.ErrMalformedPayload
	}

	cred := &models.TicketCredential{
		TicketID:  ids[0],
		EventID:   ids[1],
		HolderID:  ids[2],
		Class:     class,
		IssuedAt:  issuedAt,
		Nonce:     nonce,
		Signature: sig,
	}

	body := raw[:len(raw)-len(parts[7])-1]
	if !bytes.Equal(appendBody(nil, cred), body) {
		return nil, nil, status.ErrMalformedPayload
	}
	return cred, body, nil
}

// decodeField rejects anything but the single canonical encoding; the
// standard decoder silently skips CR and LF.
func decodeField(field []byte) ([]byte, bool) {
	out, err := b64.DecodeString(string(field))
	if err != nil || b64.EncodeToString(out) != string(field) {
		return nil, false
	}
	return out, true
}

func parseEpoch(b []byte) (time.Time, error) {
	if len(b) == 0 || b[0] == '0' {
		return time.Time{}, status.ErrMalformedPayload
	}
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			return time.Time{}, status.ErrMalformedPayload
		}
	}
	sec, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}, status.ErrMalformedPayload
	}
	return time.Unix(sec, 0).UTC(), nil
}
