// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui provides the live significance chart for a running experiment.
//
// # Description
//
// This package implements a bubbletea model that plots the signed
// -log10(p) series hour by hour as the controller publishes points. Keys
// start, stop, and restart the run, toggle burn-in hours, and show the
// running summary.
//
// # Thread Safety
//
// The model is designed for single-threaded use within the bubbletea event
// loop. Controller callbacks reach it only through Subscribe, which forwards
// them as messages.
package tui

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/stats"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Messages
// =============================================================================

// PointMsg carries one published output point.
type PointMsg struct {
	Point engine.OutputPoint
}

// StateMsg carries one controller state transition.
type StateMsg struct {
	Change engine.StateChange
}

// startErrMsg reports a failed Start issued from Init.
type startErrMsg struct {
	err error
}

// =============================================================================
// Bridge
// =============================================================================

// Runner is the subset of the controller the model drives.
type Runner interface {
	Start() error
	Stop()
	Summary(confidence float64) stats.Summary
}

// Source publishes points and state changes.
type Source interface {
	OnPoint(fn func(engine.OutputPoint)) func()
	OnStateChange(fn func(engine.StateChange)) func()
}

// Sender receives messages; *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Subscribe forwards src callbacks to dst as PointMsg and StateMsg.
//
// Outputs:
//
//	func() - Removes both subscriptions. Safe to call more than once.
func Subscribe(src Source, dst Sender) func() {
	offPoint := src.OnPoint(func(pt engine.OutputPoint) {
		dst.Send(PointMsg{Point: pt})
	})
	offState := src.OnStateChange(func(sc engine.StateChange) {
		dst.Send(StateMsg{Change: sc})
	})
	return func() {
		offPoint()
		offState()
	}
}

// =============================================================================
// Config
// =============================================================================

// Config configures the chart model.
type Config struct {
	// Title is shown in the header line.
	Title string

	// Hours is the configured experiment length, used for the x axis.
	Hours int

	// BurnInHours is shown in the header when non-zero.
	BurnInHours int

	// HideBurnIn starts with burn-in points hidden.
	HideBurnIn bool

	// Confidence is the summary interval level (default: 0.95).
	Confidence float64

	// AutoStart starts a run as soon as the program begins.
	AutoStart bool
}

// DefaultConfig returns defaults for a one-week experiment.
func DefaultConfig() Config {
	return Config{
		Title:      "absim",
		Hours:      168,
		Confidence: stats.DefaultConfidence,
	}
}

// =============================================================================
// Model
// =============================================================================

const (
	defaultWidth  = 80
	defaultHeight = 24

	// labelWidth is the y-axis label column emitted by RenderChart.
	labelWidth = 9

	// chromeLines are the non-chart lines: header, status, help.
	chromeLines = 5

	summaryLines = 6
)

// Model is the bubbletea model for the live chart.
type Model struct {
	runner Runner
	config Config
	keys   keyMap
	help   help.Model

	points []engine.OutputPoint
	runID  string
	state  engine.State
	err    error

	width       int
	height      int
	hideBurnIn  bool
	showSummary bool
	quitting    bool
}

// NewModel creates a chart model driving runner.
func NewModel(runner Runner, config Config) Model {
	if config.Confidence <= 0 || config.Confidence >= 1 {
		config.Confidence = stats.DefaultConfidence
	}
	if config.Title == "" {
		config.Title = DefaultConfig().Title
	}
	return Model{
		runner:     runner,
		config:     config,
		keys:       defaultKeyMap(),
		help:       help.New(),
		hideBurnIn: config.HideBurnIn,
		width:      defaultWidth,
		height:     defaultHeight,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if !m.config.AutoStart || m.runner == nil {
		return nil
	}
	runner := m.runner
	return func() tea.Msg {
		if err := runner.Start(); err != nil {
			return startErrMsg{err: err}
		}
		return nil
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case PointMsg:
		return m.handlePoint(msg.Point), nil

	case StateMsg:
		return m.handleState(msg.Change), nil

	case startErrMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handlePoint(pt engine.OutputPoint) Model {
	if pt.RunID != m.runID {
		m.runID = pt.RunID
		m.points = nil
	}
	if n := len(m.points); n > 0 && pt.Hour <= m.points[n-1].Hour {
		return m
	}
	m.points = append(m.points, pt)
	return m
}

func (m Model) handleState(sc engine.StateChange) Model {
	if sc.RunID != m.runID && sc.To == engine.StateRunning {
		m.runID = sc.RunID
		m.points = nil
	}
	m.state = sc.To
	if sc.To == engine.StateRunning {
		m.err = nil
	}
	if sc.Err != nil {
		m.err = sc.Err
	}
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.runner != nil {
			m.runner.Stop()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Start):
		if m.runner != nil {
			if err := m.runner.Start(); err != nil {
				m.err = err
			}
		}

	case key.Matches(msg, m.keys.Stop):
		if m.runner != nil {
			m.runner.Stop()
		}

	case key.Matches(msg, m.keys.BurnIn):
		m.hideBurnIn = !m.hideBurnIn

	case key.Matches(msg, m.keys.Summary):
		m.showSummary = !m.showSummary

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	reserved := chromeLines
	if m.showSummary {
		reserved += summaryLines
	}
	if m.help.ShowAll {
		reserved += 2
	}
	b.WriteString(RenderChart(m.points, ChartOptions{
		Width:      m.width - labelWidth - 1,
		Height:     m.height - reserved,
		Hours:      m.config.Hours,
		HideBurnIn: m.hideBurnIn,
	}))
	b.WriteString("\n")

	if m.showSummary && m.runner != nil {
		b.WriteString(m.renderSummary())
	}
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderHeader() string {
	title := titleStyle.Render(m.config.Title)
	state := stateBadge(m.state).Render(m.state.String())

	hour := 0
	if n := len(m.points); n > 0 {
		hour = m.points[n-1].Hour
	}
	progress := statsStyle.Render(fmt.Sprintf("hour %d/%d", hour, m.config.Hours))

	parts := []string{title, state, progress}
	if m.config.BurnInHours > 0 {
		label := fmt.Sprintf("burn-in %dh", m.config.BurnInHours)
		if m.hideBurnIn {
			label += " (hidden)"
		}
		parts = append(parts, statsStyle.Render(label))
	}
	if m.runID != "" {
		parts = append(parts, statsStyle.Render(shortID(m.runID)))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderStatus() string {
	if m.err != nil {
		return errorStyle.Render("error: " + m.err.Error())
	}
	if n := len(m.points); n > 0 {
		last := m.points[n-1]
		style := neutralStyle
		switch {
		case last.SignedNegLog10P >= SignificanceLine:
			style = positiveStyle
		case last.SignedNegLog10P <= -SignificanceLine:
			style = negativeStyle
		}
		return style.Render(fmt.Sprintf("signed -log10(p) %+.3f  p=%.4g", last.SignedNegLog10P, last.PValue))
	}
	return statsStyle.Render("press s to start")
}

func (m Model) renderSummary() string {
	s := m.runner.Summary(m.config.Confidence)
	t := s.Tallies
	lines := []string{
		summaryTitleStyle.Render("Summary"),
		fmt.Sprintf("  control    %d/%d  (%.4f)", t.ControlSuccesses, t.ControlTrials, s.ControlRate),
		fmt.Sprintf("  treatment  %d/%d  (%.4f)", t.TreatmentSuccesses, t.TreatmentTrials, s.TreatmentRate),
		fmt.Sprintf("  lift       %+.2f%%", s.ObservedLift*100),
		fmt.Sprintf("  diff %.0f%%  [%+.5f, %+.5f]", s.Difference.Level*100, s.Difference.Lower, s.Difference.Upper),
	}
	if s.RequiredPerArm > 0 {
		lines = append(lines, fmt.Sprintf("  needed     %d per arm", s.RequiredPerArm))
	} else {
		lines = append(lines, "")
	}
	return summaryStyle.Render(strings.Join(lines, "\n")) + "\n"
}

// Points returns the points of the current run.
func (m Model) Points() []engine.OutputPoint {
	return m.points
}

// State returns the last observed controller state.
func (m Model) State() engine.State {
	return m.state
}

// Err returns the last error shown in the status line.
func (m Model) Err() error {
	return m.err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func stateBadge(s engine.State) lipgloss.Style {
	switch s {
	case engine.StateRunning:
		return runningBadge
	case engine.StateCompleted:
		return completedBadge
	case engine.StateStopped:
		return stoppedBadge
	default:
		return idleBadge
	}
}

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	axisLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	axisStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	thresholdStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	positiveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	negativeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	neutralStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	summaryTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("75")).
				Bold(true)

	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	runningBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Background(lipgloss.Color("22")).
			Padding(0, 1)

	completedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Background(lipgloss.Color("17")).
			Padding(0, 1)

	stoppedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("52")).
			Padding(0, 1)

	idleBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Background(lipgloss.Color("58")).
			Padding(0, 1)
)
