package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nsfm/noskop/focusmap"
	"github.com/nsfm/noskop/input"
	"github.com/nsfm/noskop/internal/cliconfig"
	"github.com/nsfm/noskop/machine"
	"github.com/nsfm/noskop/machine/marlin"
)

const setupTimeout = 30 * time.Second

// scope ties the controller link to the stage and its inputs.
type scope struct {
	cfg cliconfig.Config
	log zerolog.Logger

	link    *marlin.Link
	engine  *marlin.Engine
	mc      *marlin.Marlin
	machine *machine.Machine
	stage   *machine.Stage
	in      *input.State
	focus   *focusmap.Map
	profile marlin.MotionProfile
}

// snapshot is published by the status radio.
type snapshot struct {
	Stage   machine.StageState `json:"stage"`
	Machine machine.State      `json:"machine"`
	Engine  marlin.Status      `json:"engine"`
}

func openScope(cfg cliconfig.Config, log zerolog.Logger) (*scope, error) {
	profile := marlin.DefaultProfile()
	if cfg.ProfilePath != "" {
		p, err := marlin.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	var rw io.ReadWriteCloser
	if cfg.Simulated() {
		simCfg := marlin.DefaultSimulatorConfig()
		simCfg.Logger = log
		rw = marlin.NewSimulator(simCfg)
		log.Warn().Msg("using simulated controller")
	} else {
		portCfg := marlin.DefaultPortConfig(cfg.Device)
		portCfg.Baud = cfg.Baud
		port, err := marlin.OpenPort(portCfg)
		if err != nil {
			return nil, err
		}
		rw = port
	}

	s := &scope{
		cfg:     cfg,
		log:     log,
		link:    marlin.NewLink(rw, log),
		in:      input.NewState(),
		focus:   focusmap.New(),
		profile: profile,
	}
	s.engine = marlin.NewEngine(s.link, marlin.Options{
		CommandRate:     cfg.CommandRate,
		ResponseTimeout: cfg.ResponseTimeout,
		Logger:          log,
	})
	s.mc = marlin.New(s.engine)
	s.machine = machine.NewMachine(s.mc, cfg.MaxSpeed, log)

	stageCfg := machine.DefaultStageConfig()
	stageCfg.BoostPower = cfg.BoostPower
	stageCfg.TravelPower = cfg.TravelPower
	stageCfg.FocusStep = cfg.FocusStep
	stageCfg.MoveRate = cfg.MoveRate
	s.stage = machine.NewStage(s.machine, s.in, s.focus, stageCfg, log)
	return s, nil
}

func (s *scope) Snapshot() snapshot {
	return snapshot{
		Stage:   s.stage.State(),
		Machine: s.machine.State(),
		Engine:  s.engine.Status(),
	}
}

// watch applies [stage] edits from the config file while running.
func (s *scope) watch(ctx context.Context, path string) {
	w := cliconfig.NewWatcher(path, s.log, func(fc cliconfig.StageFileConfig) {
		err := s.stage.Configure(machine.Settings{
			BoostPower:  fc.BoostPower,
			TravelPower: fc.TravelPower,
			FocusStep:   fc.FocusStep,
		})
		if err != nil {
			s.log.Error().Err(err).Msg("apply stage settings")
		}
	})
	if err := w.Start(ctx); err != nil {
		s.log.Warn().Err(err).Msg("config reload disabled")
	}
}

// setup configures the board. The link must already be serviced.
func (s *scope) setup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	if err := s.mc.SetMechanics(ctx, s.profile); err != nil {
		return err
	}
	if err := s.mc.SetFeedback(ctx); err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	if err := s.machine.Jingle(ctx); err != nil {
		s.log.Warn().Err(err).Msg("jingle")
	}
	return nil
}

func (s *scope) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.link.Close()
	defer s.engine.Close()

	errCh := make(chan error, 4)
	go func() {
		err := s.link.Listen(s.engine.Process)
		if ctx.Err() == nil {
			errCh <- fmt.Errorf("link: %w", err)
		}
	}()
	go func() {
		if err := s.engine.Run(ctx); !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	if err := s.setup(ctx); err != nil {
		return err
	}
	s.log.Info().Float64("maxMove", s.machine.MaxMove()).Msg("ready")

	var srv *http.Server
	if s.cfg.Listen != "" {
		srv = &http.Server{Addr: s.cfg.Listen, Handler: newAPI(ctx, s, s.in, s.log)}
		go func() {
			s.log.Info().Str("addr", s.cfg.Listen).Msg("listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen: %w", err)
			}
		}()
	}

	c := newControls(s.machine, s.stage, cancel, s.log)
	go c.run(ctx, s.in.Events())

	go func() {
		if err := s.stage.Run(ctx); !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		s.log.Info().Msg("stopping")
	case err = <-errCh:
		cancel()
	}

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}
	return err
}
