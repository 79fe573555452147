// Package privacy is the Privacy Classifier (C2): a pure mapping from
// (kind, tags) to a PrivacyLevel. Kept as its own package, mirroring how
// the teacher isolates kind-predicate logic in its kind package rather than
// inlining it into the event validator.
package privacy

import (
	"fitrelay.dev/event"
	"fitrelay.dev/kind"
)

// Level is one of PUBLIC, LIMITED, PRIVATE.
type Level int

const (
	Public Level = iota
	Limited
	Private
)

func (l Level) String() string {
	switch l {
	case Public:
		return "public"
	case Limited:
		return "limited"
	case Private:
		return "private"
	default:
		return "unknown"
	}
}

var privacyTagKey = []byte("privacy")
var legacyPrivacyTagKey = []byte("privacy_level")

// Classify maps an event to its PrivacyLevel. It scans the event's tags
// once; if a tag named "privacy" (or the legacy alias "privacy_level")
// carries a recognized value, that wins — first tag in order wins on
// conflict. Otherwise the kind-based default table applies. Classify is
// pure: the same event bytes always classify the same way.
func Classify(ev *event.E) Level {
	if lvl, ok := fromTags(ev); ok {
		return lvl
	}
	return defaultForKind(ev.Kind)
}

func fromTags(ev *event.E) (Level, bool) {
	if ev.Tags == nil {
		return 0, false
	}
	for _, tg := range ev.Tags.Tag {
		key := tg.Key()
		if !(equalBytes(key, privacyTagKey) || equalBytes(key, legacyPrivacyTagKey)) {
			continue
		}
		if lvl, ok := parseLevel(tg.Value()); ok {
			return lvl, true
		}
	}
	return 0, false
}

func parseLevel(v []byte) (Level, bool) {
	switch string(v) {
	case "public":
		return Public, true
	case "limited", "friends":
		return Limited, true
	case "private":
		return Private, true
	default:
		return 0, false
	}
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// defaultForKind implements the kind-based default table from the data
// model: addressable/registration kinds are PUBLIC, the health record kind
// is LIMITED, and the measurement range splits into three bands.
func defaultForKind(k kind.T) Level {
	switch k {
	case kind.SatelliteRegistration, kind.ReferencePointer:
		return Public
	case kind.HealthRecord:
		return Limited
	}
	switch {
	case k >= 32040 && k <= 32048:
		return Public
	case k >= 32030 && k <= 32039:
		return Limited
	case k >= 32018 && k <= 32029:
		return Private
	default:
		return Public
	}
}
