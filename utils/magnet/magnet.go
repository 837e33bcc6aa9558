package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"net/url"
	"strings"
)

const (
	hashLength       = 40
	base32HashLength = 32
)

// InfoHash extracts the btih info hash from a magnet URI and returns it as
// 40 lowercase hex characters, or "" when no valid hash is present. Base32
// encoded hashes (the older 32-character form) are converted to hex.
func InfoHash(magnetURL string) string {
	lower := strings.ToLower(magnetURL)
	xtIndex := strings.Index(lower, "xt=urn:btih:")
	if xtIndex == -1 {
		return ""
	}

	hashStart := xtIndex + len("xt=urn:btih:")
	remaining := magnetURL[hashStart:]
	if ampIndex := strings.Index(remaining, "&"); ampIndex != -1 {
		remaining = remaining[:ampIndex]
	}

	hash := strings.TrimSpace(remaining)
	if len(hash) == base32HashLength {
		raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(hash))
		if err != nil || len(raw) != 20 {
			return ""
		}
		return hex.EncodeToString(raw)
	}

	hash = strings.ToLower(hash)
	if !isHexHash(hash) {
		return ""
	}
	return hash
}

// Build constructs a magnet URI from an info hash and optional tracker URLs.
func Build(infoHash string, trackers []string) string {
	if infoHash == "" {
		return ""
	}
	builder := strings.Builder{}
	builder.WriteString("magnet:?xt=urn:btih:")
	builder.WriteString(strings.ToLower(infoHash))
	for _, tracker := range trackers {
		builder.WriteString("&tr=")
		builder.WriteString(url.QueryEscape(tracker))
	}
	return builder.String()
}

func isHexHash(s string) bool {
	if len(s) != hashLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
