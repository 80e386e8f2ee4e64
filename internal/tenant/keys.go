package tenant

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// AlertStateKey returns store key of one site's alert state.
func AlertStateKey(orgID, siteID string) string {
	return "alerts." + keyToken(orgID) + "." + keyToken(siteID)
}

// NotificationStateKey returns store key of one organization's notification state.
func NotificationStateKey(orgID string) string {
	return "notifications." + keyToken(orgID)
}

// keyToken maps a tenant id onto the NATS KV key alphabet without collisions.
// Ids already inside [A-Za-z0-9_-] are kept verbatim. Any other id becomes its
// sanitized form plus "=" and the sha1 of the raw id; "=" never appears in a
// verbatim id, so the two forms cannot meet.
func keyToken(id string) string {
	cleaned, changed := sanitize(id)
	if !changed {
		return cleaned
	}
	digest := sha1.Sum([]byte(id))
	var hashValue [sha1.Size * 2]byte
	hex.Encode(hashValue[:], digest[:])

	var builder strings.Builder
	builder.Grow(len(cleaned) + 1 + len(hashValue))
	builder.WriteString(cleaned)
	builder.WriteByte('=')
	builder.Write(hashValue[:])
	return builder.String()
}

// sanitize replaces runes outside [A-Za-z0-9_-] with underscore.
// Returns: cleaned value and whether any rune was replaced.
func sanitize(value string) (string, bool) {
	var builder strings.Builder
	builder.Grow(len(value))
	changed := value == ""
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
			changed = true
		}
	}
	return builder.String(), changed
}
