package marlin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsfm/noskop/coord"
)

func TestParsePosition(t *testing.T) {
	p, err := parsePosition("X:10.00 Y:-2.50 Z:0.25 E:1.00 Count X:2000 Y:-500 Z:3")
	require.NoError(t, err)
	assert.Equal(t, coord.Set{X: 10, Y: -2.5, Z: 0.25, E: 1}, p)

	p, err = parsePosition("X:1.5 Y:2")
	require.NoError(t, err)
	assert.Equal(t, coord.Set{X: 1.5, Y: 2}, p)

	_, err = parsePosition("X:abc")
	assert.Error(t, err)

	_, err = parsePosition("Count X:1")
	assert.Error(t, err)
}

func TestParseTemperature(t *testing.T) {
	temps, err := parseTemperature("T:25.00 /0.00 B:24.50 /60.00 @:0 B@:0")
	require.NoError(t, err)
	assert.Equal(t, Temperature{Current: 25}, temps["T"])
	assert.Equal(t, Temperature{Current: 24.5, Target: 60}, temps["B"])
	assert.Equal(t, Temperature{}, temps["@"])

	_, err = parseTemperature("/20.0")
	assert.Error(t, err)

	_, err = parseTemperature("T:hot")
	assert.Error(t, err)

	_, err = parseTemperature("nothing here")
	assert.Error(t, err)
}
