package privacy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fitrelay.dev/event"
	"fitrelay.dev/kind"
	"fitrelay.dev/signer"
	"fitrelay.dev/tag"
	"fitrelay.dev/tags"
	"fitrelay.dev/timestamp"
)

func newEvent(t *testing.T, k kind.T, tg ...*tag.T) *event.E {
	t.Helper()
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = k
	ev.Tags = tags.New(tg...)
	require.NoError(t, ev.Sign(s))
	return ev
}

func TestDefaultByKind(t *testing.T) {
	require.Equal(t, Public, Classify(newEvent(t, kind.SatelliteRegistration)))
	require.Equal(t, Public, Classify(newEvent(t, kind.ReferencePointer)))
	require.Equal(t, Limited, Classify(newEvent(t, kind.HealthRecord)))
	require.Equal(t, Public, Classify(newEvent(t, 32045)))
	require.Equal(t, Limited, Classify(newEvent(t, 32035)))
	require.Equal(t, Private, Classify(newEvent(t, 32020)))
}

func TestExplicitTagOverridesDefault(t *testing.T) {
	ev := newEvent(t, kind.HealthRecord, tag.NewFromStrings("privacy", "private"))
	require.Equal(t, Private, Classify(ev))
}

func TestLegacyAlias(t *testing.T) {
	ev := newEvent(t, kind.HealthRecord, tag.NewFromStrings("privacy_level", "public"))
	require.Equal(t, Public, Classify(ev))
}

func TestFirstConflictingTagWins(t *testing.T) {
	ev := newEvent(
		t, kind.HealthRecord,
		tag.NewFromStrings("privacy", "private"),
		tag.NewFromStrings("privacy", "public"),
	)
	require.Equal(t, Private, Classify(ev))
}

func TestClassifyIsPure(t *testing.T) {
	ev := newEvent(t, kind.HealthRecord)
	a := Classify(ev)
	b := Classify(ev)
	require.Equal(t, a, b)
}
