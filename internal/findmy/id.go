package findmy

import (
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mozillazg/go-unidecode"
)

// fallbackIDPrefix starts ids derived from names with no usable characters.
const fallbackIDPrefix = "device_"

var (
	separatorRegex  = regexp.MustCompile(`[\s-]`)
	disallowedRegex = regexp.MustCompile(`[^0-9a-zA-Z_-]+`)
	underscoreRegex = regexp.MustCompile(`_+`)
)

// DeriveID turns a display name into a stable topic-safe identifier.
//
// Whitespace and hyphens become underscores, the result is transliterated
// to lowercase ASCII, any remaining characters outside [0-9a-zA-Z_-] are
// dropped and runs of underscores collapse to one. Leading and trailing
// underscores are trimmed. A name that leaves nothing (only punctuation or
// symbols) gets "device_" plus 8 hex digits of a name-based UUID, so such
// devices still get distinct topics. The function is idempotent:
//
//	DeriveID("Max's iPhone")     // "maxs_iphone"
//	DeriveID("  multi   space ") // "multi_space"
func DeriveID(name string) string {
	id := separatorRegex.ReplaceAllString(name, "_")
	id = strings.ToLower(id)
	id = strings.ToLower(unidecode.Unidecode(id))
	id = disallowedRegex.ReplaceAllString(id, "")
	id = underscoreRegex.ReplaceAllString(id, "_")
	id = strings.Trim(id, "_")
	if id == "" {
		id = fallbackIDPrefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()[:8]
	}
	return id
}

// SourceTypeFor maps a FindMy position type to a Home Assistant source type.
// Unrecognised and empty values map to SourceGPS.
func SourceTypeFor(positionType string) string {
	switch positionType {
	case "Wifi":
		return SourceRouter
	case "crowdsourced", "safeLocation":
		return SourceGPS
	default:
		return SourceGPS
	}
}

// CombinedAccuracy returns the Euclidean combination of horizontal and
// vertical accuracy.
func CombinedAccuracy(horizontal, vertical float64) float64 {
	return math.Sqrt(horizontal*horizontal + vertical*vertical)
}
