package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceZero(t *testing.T) {
	assert.Zero(t, Distance(-37.7963, 144.9614, -37.7963, 144.9614))
}

func TestDistanceKnownPair(t *testing.T) {
	// Melbourne CBD to Melbourne Uni, roughly 1.8km.
	d := Distance(-37.8136, 144.9631, -37.7963, 144.9614)
	assert.InDelta(t, 1930, d, 100)
}

func TestDistanceSymmetric(t *testing.T) {
	a := Distance(-37.8136, 144.9631, 51.5074, -0.1278)
	b := Distance(51.5074, -0.1278, -37.8136, 144.9631)
	assert.InDelta(t, a, b, 0.001)
}

func TestDistanceShortRange(t *testing.T) {
	// ~11m per 0.0001 degrees of latitude.
	d := Distance(-37.8136, 144.9631, -37.8137, 144.9631)
	assert.InDelta(t, 11.1, d, 0.5)
}
