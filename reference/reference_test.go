package reference

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fitrelay.dev/event"
	"fitrelay.dev/kind"
	"fitrelay.dev/privacy"
	"fitrelay.dev/satellite"
	"fitrelay.dev/signer"
	"fitrelay.dev/tag"
	"fitrelay.dev/tags"
	"fitrelay.dev/timestamp"
)

func TestBuildCarriesPointerFields(t *testing.T) {
	originalSigner := &signer.Signer{}
	require.NoError(t, originalSigner.Generate())
	original := event.New()
	original.CreatedAt = timestamp.Now()
	original.Kind = 32020
	original.Tags = tags.New(
		tag.NewFromStrings("privacy", "private"),
		tag.NewFromStrings("d", "session-1"),
		tag.NewFromStrings("muscle", "quad"),
	)
	original.Content = []byte("secret")
	require.NoError(t, original.Sign(originalSigner))

	node := &satellite.Node{Pubkey: make([]byte, 32), URL: "https://sat.example"}
	relayIdentity := &signer.Signer{}
	require.NoError(t, relayIdentity.Generate())

	ref, err := Build(original, node, relayIdentity)
	require.NoError(t, err)
	require.Equal(t, kind.ReferencePointer, ref.Kind)
	require.Equal(t, privacy.Public, privacy.Classify(ref))

	require.NotNil(t, ref.Tags.GetFirst([]byte("e")))
	require.NotNil(t, ref.Tags.GetFirst([]byte("p")))
	require.NotNil(t, ref.Tags.GetFirst([]byte("blossom")))
	require.NotNil(t, ref.DTag())
	require.Equal(t, "session-1", string(ref.DTag()))
	// "muscle" is not in the safe-echo set and must not be copied.
	require.Nil(t, ref.Tags.GetFirst([]byte("muscle")))
}
