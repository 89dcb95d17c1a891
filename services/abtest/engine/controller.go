// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/AleutianAI/absim/services/abtest/outcome"
	"github.com/AleutianAI/absim/services/abtest/playback"
	"github.com/AleutianAI/absim/services/abtest/stats"
	"github.com/AleutianAI/absim/services/abtest/traffic"
	"github.com/AleutianAI/absim/services/abtest/variate"
	"github.com/google/uuid"
)

// DefaultPower is the power used for the required-sample-size estimate in
// Summary.
const DefaultPower = 0.8

// Controller runs one simulated experiment at a time.
//
// # Description
//
// The controller exclusively owns the run state: tallies, published points
// and the variate source. Configuration is replaced by value and read fresh
// at every step. Observers receive points through OnPoint and snapshots
// through CurrentTallies and Points.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Subscriber callbacks never run
// with the controller lock held. Points and the Running event of a run are
// delivered on its stepping goroutine, after the superseded run has delivered
// its last point. Later transitions made by callers (Stop, a rejected
// Configure) are delivered on the caller's goroutine, or by the stepping
// goroutine when the Running event has not gone out yet.
type Controller struct {
	mu sync.Mutex

	cfg    config.ExperimentConfig
	policy playback.Policy

	state State
	runID string
	seed  uint64
	acc   *stats.Accumulator
	pts   []OutputPoint
	err   error

	// gen identifies the current run; a loop whose gen is stale exits.
	gen    uint64
	cancel context.CancelFunc

	// finished is closed when the current run leaves Running.
	finished chan struct{}
	// loopDone is closed when the current run goroutine exits.
	loopDone chan struct{}
	// events tracks state-change delivery for the current run.
	events *runEvents

	pointSubs []pointSub
	stateSubs []stateSub
	nextSubID uint64

	logger     *slog.Logger
	newVariate func(seed uint64) variate.Variate
}

type pointSub struct {
	id uint64
	fn func(OutputPoint)
}

type stateSub struct {
	id uint64
	fn func(StateChange)
}

// runEvents orders the state changes of one run behind its Running event.
// Guarded by Controller.mu.
type runEvents struct {
	start     StateChange
	announced bool
	held      []StateChange
}

// NewController creates an idle controller with the default experiment and
// playback policy.
func NewController(opts ...Option) *Controller {
	closed := make(chan struct{})
	close(closed)

	c := &Controller{
		cfg:        config.DefaultExperiment(),
		policy:     playback.Default(),
		state:      StateIdle,
		acc:        stats.NewAccumulator(),
		finished:   closed,
		loopDone:   closed,
		events:     &runEvents{announced: true},
		logger:     slog.Default(),
		newVariate: defaultVariate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// Configuration
// =============================================================================

// Configure validates and installs cfg. A running experiment picks it up at
// its next step.
//
// Outputs:
//   - error: *config.ConfigurationError if cfg is out of domain; the
//     previous configuration is kept and a running experiment is halted
//     (Stopped, with the error reported through Err and the state change).
func (c *Controller) Configure(cfg config.ExperimentConfig) error {
	if err := cfg.Validate(); err != nil {
		c.haltOnReject(err)
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	state := c.state
	c.mu.Unlock()

	c.logger.Debug("experiment configured", "state", state.String(), "lift", cfg.Lift, "hours", cfg.ExperimentLengthHours)
	return nil
}

// haltOnReject stops a running experiment after a rejected configuration.
func (c *Controller) haltOnReject(err error) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	change := c.transitionLocked(StateStopped, err)
	subs := c.queueOrSubsLocked(change)
	c.mu.Unlock()

	c.logger.Error("simulation halted by rejected configuration",
		"run_id", change.RunID,
		"hour", change.Hour,
		"error", err,
	)
	recordRun(context.Background(), "error")
	deliverState(subs, change)
}

// Config returns the installed configuration.
func (c *Controller) Config() config.ExperimentConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetPolicy replaces the playback policy from the next scheduling decision.
func (c *Controller) SetPolicy(p playback.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.policy = p.Clone()
	c.mu.Unlock()
	return nil
}

// Policy returns a copy of the playback policy.
func (c *Controller) Policy() playback.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.Clone()
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start begins a fresh run.
//
// # Description
//
// Validates the current configuration, discards any previous run state,
// assigns a new run ID and transitions to Running. A run in progress is
// superseded; its goroutine finishes the step it is in and exits before the
// new run takes its first step. The Running state change is delivered by the
// new run's goroutine once the superseded one has exited, so subscribers
// never see a point of the old run after it.
//
// # Outputs
//
//   - error: *config.ConfigurationError if the configuration is invalid. The
//     state is unchanged in that case.
func (c *Controller) Start() error {
	c.mu.Lock()
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}

	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.gen++
	gen := c.gen

	prevDone := c.loopDone
	loopDone := make(chan struct{})
	c.loopDone = loopDone

	v := c.newVariate(cfg.Seed)
	c.seed = cfg.Seed
	if s, ok := v.(interface{ Seed() uint64 }); ok {
		c.seed = s.Seed()
	}

	c.acc.Reset()
	c.pts = nil
	c.err = nil
	c.runID = uuid.NewString()

	if c.state == StateRunning {
		close(c.finished)
	}
	c.finished = make(chan struct{})
	events := &runEvents{start: StateChange{RunID: c.runID, From: c.state, To: StateRunning}}
	c.events = events
	c.state = StateRunning
	runID, seed := c.runID, c.seed
	c.mu.Unlock()

	go c.loop(ctx, gen, v, events, prevDone, loopDone)

	c.logger.Info("simulation started",
		"run_id", runID,
		"seed", seed,
		"hours", cfg.ExperimentLengthHours,
		"allocation", cfg.Allocation,
	)
	recordRun(ctx, "started")
	return nil
}

// Stop halts a running experiment, keeping its published points. It is a
// no-op in any other state.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	change := c.transitionLocked(StateStopped, nil)
	subs := c.queueOrSubsLocked(change)
	c.mu.Unlock()

	c.logger.Info("simulation stopped", "run_id", change.RunID, "hour", change.Hour)
	recordRun(context.Background(), "stopped")
	deliverState(subs, change)
}

// Close stops any run and waits for its goroutine to exit. It must not be
// called from a subscriber running on that goroutine.
func (c *Controller) Close() {
	c.Stop()
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()
	<-done
}

// Wait blocks until the current run goroutine has exited, including
// delivery of its final point, or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the current run leaves Running. Before
// the first Start it is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// transitionLocked moves out of Running and builds the change event.
// Must be called with c.mu held.
func (c *Controller) transitionLocked(to State, err error) StateChange {
	from := c.state
	c.state = to
	if err != nil {
		c.err = err
	}
	if from == StateRunning && to != StateRunning {
		close(c.finished)
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	}
	return StateChange{
		RunID: c.runID,
		From:  from,
		To:    to,
		Hour:  c.acc.Tallies().ElapsedHours,
		Err:   err,
	}
}

// queueOrSubsLocked returns the subscribers change should be delivered to
// now, or nil after holding it for the stepping goroutine when the run's
// Running event is still pending. Must be called with c.mu held.
func (c *Controller) queueOrSubsLocked(change StateChange) []stateSub {
	if !c.events.announced {
		c.events.held = append(c.events.held, change)
		return nil
	}
	return c.stateSubsLocked()
}

// =============================================================================
// Stepping
// =============================================================================

// announce delivers the Running event of a run, then any transitions that
// callers made before it went out.
func (c *Controller) announce(ev *runEvents) {
	c.mu.Lock()
	subs := c.stateSubsLocked()
	c.mu.Unlock()
	deliverState(subs, ev.start)

	c.mu.Lock()
	ev.announced = true
	held := ev.held
	ev.held = nil
	subs = c.stateSubsLocked()
	c.mu.Unlock()
	for _, change := range held {
		deliverState(subs, change)
	}
}

// loop drives one run until it is superseded, stopped or finished.
func (c *Controller) loop(ctx context.Context, gen uint64, v variate.Variate, ev *runEvents, prevDone <-chan struct{}, done chan struct{}) {
	defer close(done)
	<-prevDone
	c.announce(ev)

	for {
		c.mu.Lock()
		if c.gen != gen || c.state != StateRunning {
			c.mu.Unlock()
			return
		}
		delay := c.policy.Interval(c.acc.Tallies().ElapsedHours)
		c.mu.Unlock()

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		if !c.step(ctx, gen, v) {
			return
		}
	}
}

// step advances the run by one hour. It returns false when the loop should
// exit.
func (c *Controller) step(ctx context.Context, gen uint64, v variate.Variate) bool {
	start := time.Now()

	c.mu.Lock()
	if c.gen != gen || c.state != StateRunning {
		c.mu.Unlock()
		return false
	}

	cfg := c.cfg
	runID := c.runID
	elapsed := c.acc.Tallies().ElapsedHours

	ctx, span := startStepSpan(ctx, runID, elapsed+1)
	defer span.End()

	trials := traffic.NextHour(cfg, elapsed, v)
	succ, err := outcome.NextHour(cfg, elapsed, trials, v)

	hour := stats.HourCounts{
		ControlTrials:      trials.Control,
		ControlSuccesses:   succ.Control,
		TreatmentTrials:    trials.Treatment,
		TreatmentSuccesses: succ.Treatment,
	}
	if err == nil {
		err = c.acc.ApplyHour(hour)
	}
	if err != nil {
		change := c.transitionLocked(StateStopped, err)
		subs := c.stateSubsLocked()
		c.mu.Unlock()

		setStepSpanResult(span, OutputPoint{}, err)
		c.logger.Error("simulation halted",
			"run_id", runID,
			"hour", elapsed+1,
			"error", err,
		)
		recordRun(ctx, "error")
		deliverState(subs, change)
		return false
	}

	tallies := c.acc.Tallies()
	res := stats.Evaluate(tallies)
	pt := OutputPoint{
		RunID:           runID,
		Hour:            tallies.ElapsedHours,
		SignedNegLog10P: stats.SignedNegLog10P(res),
		PValue:          res.PValue,
		Sign:            res.Sign,
		BurnIn:          cfg.IsBurnIn(tallies.ElapsedHours),
		Tallies:         tallies,
	}
	c.pts = append(c.pts, pt)

	var (
		change    StateChange
		completed bool
		stateSubs []stateSub
	)
	if tallies.ElapsedHours >= cfg.ExperimentLengthHours {
		change = c.transitionLocked(StateCompleted, nil)
		completed = true
		stateSubs = c.stateSubsLocked()
	}
	pointSubs := c.pointSubsLocked()
	c.mu.Unlock()

	setStepSpanResult(span, pt, nil)
	recordStepMetrics(ctx, time.Since(start), pt, hour)
	c.logger.Debug("simulation step",
		"run_id", runID,
		"hour", pt.Hour,
		"p_value", pt.PValue,
		"signed_neg_log10_p", pt.SignedNegLog10P,
	)

	for _, s := range pointSubs {
		s.fn(pt)
	}

	if completed {
		c.logger.Info("simulation completed", "run_id", runID, "hours", pt.Hour, "p_value", pt.PValue)
		recordRun(ctx, "completed")
		deliverState(stateSubs, change)
		return false
	}
	return true
}

// =============================================================================
// Observation
// =============================================================================

// OnPoint registers fn to receive every published point, once per step and
// in hour order. The returned function unsubscribes; a delivery already in
// progress may still complete.
func (c *Controller) OnPoint(fn func(OutputPoint)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	c.pointSubs = append(c.pointSubs, pointSub{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.pointSubs {
			if s.id == id {
				c.pointSubs = append(c.pointSubs[:i:i], c.pointSubs[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers fn to receive lifecycle transitions.
func (c *Controller) OnStateChange(fn func(StateChange)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	c.stateSubs = append(c.stateSubs, stateSub{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.stateSubs {
			if s.id == id {
				c.stateSubs = append(c.stateSubs[:i:i], c.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// CurrentTallies returns a snapshot of the running totals.
func (c *Controller) CurrentTallies() stats.Tallies {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.Tallies()
}

// Points returns a copy of the points published by the current run.
func (c *Controller) Points() []OutputPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OutputPoint, len(c.pts))
	copy(out, c.pts)
	return out
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the configuration error that halted the current run, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// RunID returns the ID of the current run, empty before the first Start.
func (c *Controller) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Seed returns the effective seed of the current run.
func (c *Controller) Seed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seed
}

// Summary computes the current readout at the given confidence level. The
// required sample size targets the configured lift at DefaultPower.
func (c *Controller) Summary(confidence float64) stats.Summary {
	c.mu.Lock()
	tallies := c.acc.Tallies()
	cfg := c.cfg
	c.mu.Unlock()

	s := stats.Summarize(tallies, confidence)
	s.RequiredPerArm = stats.RequiredSampleSize(cfg.BaseConversionRate, cfg.Lift, 1-s.Difference.Level, DefaultPower)
	return s
}

func (c *Controller) pointSubsLocked() []pointSub {
	if len(c.pointSubs) == 0 {
		return nil
	}
	out := make([]pointSub, len(c.pointSubs))
	copy(out, c.pointSubs)
	return out
}

func (c *Controller) stateSubsLocked() []stateSub {
	if len(c.stateSubs) == 0 {
		return nil
	}
	out := make([]stateSub, len(c.stateSubs))
	copy(out, c.stateSubs)
	return out
}

func deliverState(subs []stateSub, change StateChange) {
	for _, s := range subs {
		s.fn(change)
	}
}
