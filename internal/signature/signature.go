// Package signature decodes and encodes agent signatures, the opaque
// identity tokens that link a chat conversation to an agent runtime app.
package signature

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Prefix marks signatures issued for externally hosted agents.
const Prefix = "external_agent/"

// ErrMalformedSignature is returned for signatures that cannot be decoded
// or that lack a required field.
var ErrMalformedSignature = errors.New("malformed agent signature")

// Signature is the decoded identity carried by an agent signature.
type Signature struct {
	AgentURL string `json:"agent_url"`
	AppName  string `json:"app_name"`
	ModelRef string `json:"model_ref"`
}

// Decode parses an agent signature. The prefix is optional.
func Decode(sig string) (Signature, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(sig), Prefix)
	if raw == "" {
		return Signature{}, fmt.Errorf("%w: empty", ErrMalformedSignature)
	}

	data, err := decodeBase64(raw)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	var s Signature
	if err := json.Unmarshal(data, &s); err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if err := s.Validate(); err != nil {
		return Signature{}, err
	}
	return s, nil
}

// Encode returns the prefixed base64 form of s.
func Encode(s Signature) string {
	data, _ := json.Marshal(s)
	return Prefix + base64.StdEncoding.EncodeToString(data)
}

// Validate reports a missing required field.
func (s Signature) Validate() error {
	switch {
	case s.AgentURL == "":
		return fmt.Errorf("%w: agent_url is required", ErrMalformedSignature)
	case s.AppName == "":
		return fmt.Errorf("%w: app_name is required", ErrMalformedSignature)
	case s.ModelRef == "":
		return fmt.Errorf("%w: model_ref is required", ErrMalformedSignature)
	}
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
