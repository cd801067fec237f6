package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_Clamp(t *testing.T) {
	s := Set{X: 500, Y: -500, Z: 0.5, E: -0.25}.Clamp(1)
	assert.Equal(t, Set{X: 1, Y: -1, Z: 0.5, E: -0.25}, s)
}

func TestSet_Aggregate(t *testing.T) {
	// opposing axes must not cancel out
	assert.Equal(t, 2.0, Set{X: 1, Y: -1}.Aggregate())
	assert.Equal(t, 0.0, Set{}.Aggregate())
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 10.0, Distance(10))
	assert.Equal(t, 10.0, Distance(10, 0))
	assert.Equal(t, 10.0, Distance(0, 10, 0))
	assert.Equal(t, 10.0, Distance(0, 0, 10, 0))
	assert.InDelta(t, 14.14, Distance(10, 10), 0.01)
	assert.InDelta(t, 11.18, Distance(10, 5), 0.01)
	assert.Equal(t, 5.0, Set{X: 3, Y: 4, E: 100}.Distance())
}

func TestLerp(t *testing.T) {
	assert.Equal(t, 5.0, Lerp(0, 10, 0.5))
	assert.Equal(t, 2.5, Lerp(0, 10, 0.25))
	assert.Equal(t, 80.0, Lerp(1, 80, 1))
}
