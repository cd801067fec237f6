package machine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsfm/noskop/coord"
	"github.com/nsfm/noskop/focusmap"
	"github.com/nsfm/noskop/input"
	"github.com/nsfm/noskop/machine/marlin"
)

func newTestStage(r *rig, focus *focusmap.Map, cfg StageConfig) (*Stage, *input.State) {
	in := input.NewState()
	return NewStage(r.m, in, focus, cfg, zerolog.Nop()), in
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, Settings{}.Validate())
	assert.NoError(t, Settings{BoostPower: 1, TravelPower: 20, FocusStep: 0.00001}.Validate())

	var verr *marlin.ValidationError
	for _, s := range []Settings{
		{BoostPower: 0.5},
		{BoostPower: 201},
		{TravelPower: 0.05},
		{TravelPower: 21},
		{FocusStep: 0.000001},
		{FocusStep: 11},
	} {
		assert.True(t, errors.As(s.Validate(), &verr), "%+v", s)
	}
}

func TestStage_Configure(t *testing.T) {
	r, _ := newRig(t, false)
	s, _ := newTestStage(r, nil, DefaultStageConfig())

	require.NoError(t, s.Configure(Settings{TravelPower: 2}))
	st := s.State()
	assert.Equal(t, 2.0, st.TravelPower)
	assert.Equal(t, 80.0, st.BoostPower)
	assert.Equal(t, 0.01, st.FocusStep)

	assert.Error(t, s.Configure(Settings{BoostPower: 40, FocusStep: 50}))
	assert.Equal(t, 80.0, s.State().BoostPower)
}

func TestStage_Boost(t *testing.T) {
	r, _ := newRig(t, false)
	s, in := newTestStage(r, nil, DefaultStageConfig())

	assert.Equal(t, 1.0, s.Boost())
	assert.Equal(t, 80.0, s.MaxBoost())

	_ = in.SetAxis(input.Boost, 1)
	assert.Equal(t, 80.0, s.Boost())

	_ = in.SetButton(input.Fine, true)
	assert.Equal(t, 40.0, s.MaxBoost())
	_ = in.SetButton(input.Coarse, true)
	assert.Equal(t, 160.0, s.MaxBoost(), "coarse wins over fine")

	_ = in.SetButton(input.Coarse, false)
	_ = in.SetButton(input.Fine, false)
	_ = in.SetAxis(input.Brake, 0.5)
	assert.Equal(t, 40.0, s.Boost())

	_ = in.SetAxis(input.Boost, 0.5)
	assert.InDelta(t, 0.5*40.5, s.Boost(), 1e-9)
}

func TestStage_MoveBelowThreshold(t *testing.T) {
	r, ctx := newRig(t, true)
	s, in := newTestStage(r, nil, DefaultStageConfig())

	require.NoError(t, s.Move(ctx, false))
	_ = in.SetAxis(input.AnalogX, 0.00001)
	require.NoError(t, s.Move(ctx, false))
	assert.Empty(t, r.rec.Lines())
}

func TestStage_MoveBraked(t *testing.T) {
	r, ctx := newRig(t, true)
	s, in := newTestStage(r, nil, DefaultStageConfig())

	_ = in.SetAxis(input.AnalogX, 1)
	_ = in.SetAxis(input.Brake, 1)
	require.NoError(t, s.Move(ctx, false))
	assert.Empty(t, r.rec.Lines())
}

func TestStage_Move(t *testing.T) {
	r, ctx := newRig(t, true)
	s, in := newTestStage(r, nil, DefaultStageConfig())

	_ = in.SetAxis(input.AnalogX, 0.3)
	_ = in.SetAxis(input.AnalogY, -0.2)
	_ = in.SetButton(input.FocusOut, true)
	_ = in.SetButton(input.TurretLeft, true)
	require.NoError(t, s.Move(ctx, false))
	in.Reset()

	assert.Equal(t, []string{"G91", "G0 X1.5 Y-1 Z0.01 E-0.01 F10"}, r.rec.Lines())

	st := s.State()
	assert.False(t, st.Homed)
	assert.Equal(t, coord.Point{}, st.Position)
	assert.InDelta(t, 1.5, st.TargetPosition.X, 1e-9)
	assert.InDelta(t, -1, st.TargetPosition.Y, 1e-9)
	assert.InDelta(t, 0.01, st.TargetPosition.Z, 1e-9)
}

func TestStage_MoveMatchesLimitedTravel(t *testing.T) {
	r, ctx := newRig(t, true)
	s, in := newTestStage(r, nil, DefaultStageConfig())
	require.Equal(t, 2.0, r.m.MaxMove())

	// full deflection asks for 5mm, the machine only sends MaxMove
	_ = in.SetAxis(input.AnalogX, 1)
	_ = in.SetButton(input.FocusIn, true)
	require.NoError(t, s.Move(ctx, false))
	in.Reset()

	assert.Equal(t, []string{"G0 X2 Y0 Z-0.01 E0 F10"}, r.rec.Moves())
	st := s.State()
	assert.InDelta(t, 2, st.TargetPosition.X, 1e-9)
	assert.InDelta(t, -0.01, st.TargetPosition.Z, 1e-9)

	require.Eventually(t, func() bool {
		return r.sim.Position().X == st.TargetPosition.X
	}, 5*time.Second, time.Millisecond)
}

func TestStage_MoveSkipsWhileCalibrating(t *testing.T) {
	r, ctx := newRig(t, true)
	s, in := newTestStage(r, nil, DefaultStageConfig())

	r.m.calibrating.Store(true)
	_ = in.SetAxis(input.AnalogX, 1)
	require.NoError(t, s.Move(ctx, false))
	require.NoError(t, s.Move(ctx, true))
	assert.Empty(t, r.rec.Lines())
	assert.Equal(t, coord.Point{}, s.State().TargetPosition)

	r.m.calibrating.Store(false)
	require.NoError(t, s.Move(ctx, false))
	assert.Len(t, r.rec.Moves(), 1)
}

func TestStage_MoveSkipsWhileBusy(t *testing.T) {
	r, ctx := newRig(t, false)
	s, in := newTestStage(r, nil, DefaultStageConfig())

	_, err := r.mc.Dwell(10)
	require.NoError(t, err)
	_ = in.SetAxis(input.AnalogX, 1)

	require.NoError(t, s.Move(ctx, false))
	assert.Equal(t, 1, r.eng.Status().Queued)
	assert.Equal(t, coord.Point{}, s.State().TargetPosition)
}

func TestStage_FollowUp(t *testing.T) {
	r, ctx := newRig(t, true)
	s, in := newTestStage(r, nil, DefaultStageConfig())

	// 0.5mm at 10mm/s is a 50ms travel, the next one is checked after 38ms
	_ = in.SetAxis(input.AnalogX, 0.1)
	require.NoError(t, s.Move(ctx, false))

	require.Eventually(t, func() bool {
		return len(r.rec.Moves()) >= 3
	}, 2*time.Second, time.Millisecond)
	in.Reset()

	for _, m := range r.rec.Moves() {
		assert.Equal(t, "G0 X0.5 Y0 Z0 E0 F10", m)
	}
}

func TestStage_Run(t *testing.T) {
	r, ctx := newRig(t, true)
	cfg := DefaultStageConfig()
	cfg.MoveRate = 100
	s, in := newTestStage(r, nil, cfg)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error)
	go func() { done <- s.Run(runCtx) }()

	_ = in.SetButton(input.FocusIn, true)
	require.Eventually(t, func() bool {
		return s.State().TargetPosition.Z < -0.02
	}, 2*time.Second, time.Millisecond)
	in.Reset()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStage_HomeAndLimits(t *testing.T) {
	r, ctx := newRig(t, true)
	cfg := DefaultStageConfig()
	cfg.Limits = [2]coord.Point{{X: -1, Y: -1, Z: -1}, {X: 1, Y: 1, Z: 1}}
	s, in := newTestStage(r, nil, cfg)

	require.NoError(t, s.Home(ctx))
	assert.Equal(t, "G28 O R5 X Y Z", r.rec.Lines()[0])
	st := s.State()
	assert.True(t, st.Homed)
	assert.Equal(t, coord.Point{}, st.TargetPosition)

	_ = in.SetAxis(input.AnalogX, 1)
	require.NoError(t, s.Move(ctx, false))
	assert.Equal(t, []string{"G0 X1 Y0 Z0 E0 F10"}, r.rec.Moves())
	assert.Equal(t, coord.Point{X: 1}, s.State().TargetPosition)

	// already at the limit
	require.NoError(t, s.Move(ctx, false))
	assert.Len(t, r.rec.Moves(), 1)
	in.Reset()
}

func TestStage_FocusCorrection(t *testing.T) {
	r, ctx := newRig(t, true)
	focus := focusmap.New()
	for _, p := range []coord.Point{
		{X: -10, Y: -10, Z: -3},
		{X: -10, Y: 10, Z: -3},
		{X: 10, Y: -10, Z: 3},
		{X: 10, Y: 10, Z: 3},
	} {
		require.NoError(t, focus.Record(p))
	}
	s, in := newTestStage(r, focus, DefaultStageConfig())

	// corrections only apply once positions are absolute
	assert.Error(t, s.MarkFocus())
	require.NoError(t, s.Home(ctx))

	_ = in.SetAxis(input.AnalogX, 0.2)
	require.NoError(t, s.Move(ctx, false))
	in.Reset()

	assert.Equal(t, "G0 X1 Y0 Z0.3 E0 F10", r.rec.Moves()[0])
	assert.InDelta(t, 0.3, s.State().TargetPosition.Z, 1e-9)

	require.NoError(t, s.MarkFocus())
	assert.Len(t, focus.Points(), 5)
}
