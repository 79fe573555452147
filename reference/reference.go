// Package reference is the Reference-Event Synthesizer (C8): builds and
// signs a PUBLIC pointer event for a PRIVATE original that has been routed
// to a satellite, grounded on how the teacher's handleEvent.go derives and
// signs a new event from an existing one rather than mutating it in place.
package reference

import (
	"strconv"

	"fitrelay.dev/event"
	"fitrelay.dev/hex"
	"fitrelay.dev/kind"
	"fitrelay.dev/satellite"
	"fitrelay.dev/signer"
	"fitrelay.dev/tag"
	"fitrelay.dev/tags"
	"fitrelay.dev/timestamp"
)

// safeEcho is the set of tag names copied verbatim from the original event
// into the reference event.
var safeEcho = map[string]bool{"d": true, "t": true, "subject": true}

// Build synthesizes the PUBLIC reference event for original, signed by the
// relay's own identity. It does not store the event; the caller (the
// connection/protocol engine) is responsible for that Put.
func Build(original *event.E, node *satellite.Node, relayIdentity signer.I) (ref *event.E, err error) {
	ref = event.New()
	ref.CreatedAt = timestamp.Now()
	ref.Kind = kind.ReferencePointer
	ref.Content = []byte("")

	t := tags.New(
		tag.NewFromStrings("e", hex.Enc(original.Id)),
		tag.NewFromStrings("p", hex.Enc(original.Pubkey)),
		tag.NewFromStrings("k", strconv.Itoa(int(original.Kind))),
		tag.NewFromStrings("blossom", hex.Enc(node.Pubkey), node.URL),
	)
	for _, tg := range original.Tags.Tag {
		if tg.Len() == 0 {
			continue
		}
		if safeEcho[string(tg.Key())] {
			t.Append(tg.Clone())
		}
	}
	ref.Tags = t

	if err = ref.Sign(relayIdentity); err != nil {
		return nil, err
	}
	return ref, nil
}
