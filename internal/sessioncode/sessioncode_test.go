package sessioncode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateGoldenVector(t *testing.T) {
	assert.Equal(t, "877473", Generate("abc123", 1_000_000_000_000, 10_000))
}

func TestGenerateStableWithinBucket(t *testing.T) {
	const interval = int64(10_000)
	base := Generate("abc123", 1_000_000_000_000, interval)
	for _, off := range []int64{1, 999, 5_000, 9_999} {
		assert.Equal(t, base, Generate("abc123", 1_000_000_000_000+off, interval))
	}
}

func TestGenerateChangesAcrossBuckets(t *testing.T) {
	const interval = int64(10_000)
	assert.NotEqual(t,
		Generate("abc123", 1_000_000_000_000, interval),
		Generate("abc123", 1_000_000_000_000+interval, interval))
}

func TestGenerateSixDigits(t *testing.T) {
	for _, ts := range []int64{0, 1, 999_999, 1_000_000_000_000, 1_735_689_600_000} {
		code := Generate("s3cret", ts, 10_000)
		assert.Len(t, code, 6)
		assert.GreaterOrEqual(t, code, "100000")
		assert.LessOrEqual(t, code, "999999")
	}
}

func TestVerifySkewWindow(t *testing.T) {
	const interval = int64(10_000)
	now := int64(1_000_000_000_000)

	prev := Generate("abc123", now-interval, interval)
	curr := Generate("abc123", now, interval)
	next := Generate("abc123", now+interval, interval)
	twoAhead := Generate("abc123", now+2*interval, interval)

	assert.True(t, Verify("abc123", prev, now, interval))
	assert.True(t, Verify("abc123", curr, now, interval))
	assert.True(t, Verify("abc123", next, now, interval))
	assert.False(t, Verify("abc123", twoAhead, now, interval))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	assert.False(t, Verify("abc123", "000000", 1_000_000_000_000, 10_000))
	assert.False(t, Verify("abc123", "", 1_000_000_000_000, 10_000))
}

func TestSecretDisambiguates(t *testing.T) {
	// Same bucket, different secrets.
	assert.NotEqual(t,
		Generate("abc123", 1_000_000_000_000, 10_000),
		Generate("abc124", 1_000_000_000_000, 10_000))
}
