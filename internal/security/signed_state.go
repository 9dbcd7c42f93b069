package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrSignedStateDecode    = errors.New("failed to decode signed state")
	ErrSignedStateSignature = errors.New("invalid signed state signature")
	ErrSignedStatePayload   = errors.New("invalid signed state payload")
)

var stateEncoding = base64.RawURLEncoding.Strict()

// SignedStateCodec packs a JSON payload and a random nonce into an HMAC-SHA256 signed,
// URL-safe string: base64url({"d": base64url(json({p, n})), "s": hex(hmac(d))}).
type SignedStateCodec struct {
	secret []byte
}

type signedStateBody struct {
	Payload json.RawMessage `json:"p"`
	Nonce   string          `json:"n"`
}

// StateValidator is implemented by payloads with constraints beyond their JSON shape.
type StateValidator interface {
	Validate() error
}

func NewSignedStateCodec(secret string) (*SignedStateCodec, error) {
	if len(secret) < MinPepperLength {
		return nil, fmt.Errorf("signed state secret must be at least %d bytes", MinPepperLength)
	}
	return &SignedStateCodec{secret: []byte(secret)}, nil
}

func (c *SignedStateCodec) Sign(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal state payload: %w", err)
	}
	nonce, err := randomString(16)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(signedStateBody{Payload: raw, Nonce: nonce})
	if err != nil {
		return "", fmt.Errorf("marshal state body: %w", err)
	}
	encoded := stateEncoding.EncodeToString(body)
	envelope, err := json.Marshal(map[string]string{"d": encoded, "s": c.sign(encoded)})
	if err != nil {
		return "", fmt.Errorf("marshal state envelope: %w", err)
	}
	return stateEncoding.EncodeToString(envelope), nil
}

// Verify checks the signature before touching the payload, then decodes it into out.
// Unknown payload fields are rejected.
func (c *SignedStateCodec) Verify(signed string, out any) error {
	rawEnvelope, err := stateEncoding.DecodeString(signed)
	if err != nil {
		return ErrSignedStateDecode
	}
	var envelope map[string]string
	if err := json.Unmarshal(rawEnvelope, &envelope); err != nil {
		return ErrSignedStateDecode
	}
	encoded, signature := envelope["d"], envelope["s"]
	if len(envelope) != 2 || encoded == "" || signature == "" {
		return ErrSignedStateDecode
	}
	if !hmac.Equal([]byte(c.sign(encoded)), []byte(signature)) {
		return ErrSignedStateSignature
	}

	rawBody, err := stateEncoding.DecodeString(encoded)
	if err != nil {
		return ErrSignedStatePayload
	}
	var body signedStateBody
	if err := json.Unmarshal(rawBody, &body); err != nil || body.Nonce == "" || len(body.Payload) == 0 {
		return ErrSignedStatePayload
	}
	dec := json.NewDecoder(bytes.NewReader(body.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return ErrSignedStatePayload
	}
	if v, ok := out.(StateValidator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrSignedStatePayload, err)
		}
	}
	return nil
}

func (c *SignedStateCodec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
