package marlin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	require.NoError(t, p.Validate())
	require.Len(t, p.Steppers, 4)
	assert.Equal(t, AxisE, p.Steppers[3].Axis)
	assert.Equal(t, 4, p.Steppers[3].Port)
	assert.Equal(t, Limits{Feedrate: 40, Acceleration: 20, Jerk: 1}, p.Steppers[2].Max)
}

func TestMotionProfile_Validate(t *testing.T) {
	var verr *ValidationError

	p := DefaultProfile()
	p.Steppers[1].Axis = AxisX
	assert.True(t, errors.As(p.Validate(), &verr), "duplicate axis")

	p = DefaultProfile()
	p.Steppers[0].Axis = "W"
	assert.True(t, errors.As(p.Validate(), &verr), "unknown axis")

	p = DefaultProfile()
	p.MinFeedrate = 2000
	assert.True(t, errors.As(p.Validate(), &verr), "min above max")

	p = DefaultProfile()
	p.Steppers[3].Max.Jerk = 0
	assert.True(t, errors.As(p.Validate(), &verr), "zero jerk")

	p = DefaultProfile()
	p.InactivityShutdown = -1
	assert.True(t, errors.As(p.Validate(), &verr), "negative inactivity")
}

const testProfile = `
inactivityShutdown: 120
minFeedrate: 0.01
maxFeedrate: 500
maxAcceleration: 800
maxJerk: 50
steppers:
  - name: Stage (X)
    port: 0
    axis: X
    steps: 400
    invert: true
    max:
      feedrate: 800
      acceleration: 500
      jerk: 40
`

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testProfile), 0o644))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 120.0, p.InactivityShutdown)
	require.Len(t, p.Steppers, 1)
	assert.Equal(t, StepperConfig{
		Name:   "Stage (X)",
		Axis:   AxisX,
		Steps:  400,
		Invert: true,
		Max:    Limits{Feedrate: 800, Acceleration: 500, Jerk: 40},
	}, p.Steppers[0])

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(testProfile+"turbo: true\n"), 0o644))
	_, err = LoadProfile(bad)
	assert.Error(t, err)

	_, err = LoadProfile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
