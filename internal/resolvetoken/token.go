// Package resolvetoken encodes the opaque token embedded in stream URLs.
// The token carries the magnet link plus the content cache key, so a resolve
// request can find its cached alternates without any server-side session.
package resolvetoken

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is what a stream URL token decodes to.
type Payload struct {
	MagnetLink string `json:"magnetLink"`
	CacheKey   string `json:"cacheKey,omitempty"`
}

// Encode packs the payload as URL-safe base64 over JSON.
func Encode(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding resolve token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Decode unpacks a token. Tokens from older clients held a bare magnet link
// instead of a JSON object; those decode to a payload with no cache key.
func Decode(token string) (Payload, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		// Some clients re-encode with standard alphabet.
		raw, err = base64.StdEncoding.DecodeString(token)
		if err != nil {
			return Payload{}, fmt.Errorf("decoding resolve token: %w", err)
		}
	}

	var p Payload
	if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil && p.MagnetLink != "" {
		return p, nil
	}

	if s := strings.TrimSpace(string(raw)); strings.HasPrefix(s, "magnet:") {
		return Payload{MagnetLink: s}, nil
	}

	return Payload{}, fmt.Errorf("resolve token holds neither payload nor magnet link")
}
