// Package sessioncode implements the rotating 6-digit verification code shown to
// attendees of sessions that require one. The code is a TOTP-style derivation from a
// per-session secret and a time bucket; both ends recompute it independently, so no
// code ever travels over the wire ahead of time.
package sessioncode

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"geoattend/internal/hashchain"
)

// DefaultIntervalMs is the rotation boundary used when none is configured.
const DefaultIntervalMs = 10_000

// Generate derives the 6-digit code for the bucket containing timestampMs.
// The first four bytes of sha256("<secret>:<bucket>") are mapped into
// [100000, 999999]. The small output space is for human entry, not security margin.
func Generate(secret string, timestampMs, intervalMs int64) string {
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	step := timestampMs / intervalMs
	return codeForStep(secret, step)
}

// Verify reports whether submitted matches the code of the current bucket or its
// immediate neighbors. The one-bucket window on either side absorbs clock skew
// between the party displaying the code and the party checking it.
func Verify(secret, submitted string, timestampMs, intervalMs int64) bool {
	if intervalMs <= 0 {
		intervalMs = DefaultIntervalMs
	}
	step := timestampMs / intervalMs
	for _, s := range []int64{step - 1, step, step + 1} {
		if codeForStep(secret, s) == submitted {
			return true
		}
	}
	return false
}

func codeForStep(secret string, step int64) string {
	digest := hashchain.Digest(secret + ":" + strconv.FormatInt(step, 10))
	raw, _ := hex.DecodeString(digest[:8])
	n := binary.BigEndian.Uint32(raw)
	return strconv.FormatUint(uint64(n%900_000+100_000), 10)
}
