// Package controller provides output adapters for displaying audit results.
package controller

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// StartMode defines the mode of operation for the UI.
type StartMode int

// Available StartMode values.
const (
	ModeScan StartMode = iota
	ModeView
	ModeRules
)

// StartOption is a functional option for Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	mode StartMode
}

// Mode returns the configured mode.
func (c StartConfig) Mode() StartMode {
	return c.mode
}

// WithScanMode sets the UI to scan progress mode.
func WithScanMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeScan
	}
}

// WithViewMode sets the UI to report browsing mode.
func WithViewMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeView
	}
}

// WithRulesMode sets the UI to rule listing mode.
func WithRulesMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeRules
	}
}

func newStartConfig(options []StartOption) StartConfig {
	cfg := StartConfig{mode: ModeScan}
	for _, opt := range options {
		opt(&cfg)
	}

	return cfg
}

// UI defines the interface for displaying audit progress and results.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	Wait(ctx context.Context) // Wait for UI to finish (user closes it)
	DisplayPhase(ctx context.Context, phase string, detail string)
	DisplayScanSummary(ctx context.Context, report m.Report) error
	DisplayFindings(ctx context.Context, findings []m.Finding, chains []m.AttackChain) error
	DisplayRules(ctx context.Context, version string, rules []m.RuleSpec) error
}

// NewUI returns the interactive UI on a terminal and the simple UI otherwise.
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd)
	}

	return NewSimpleUI(cmd)
}

// IsTTY reports whether f is an interactive terminal.
func IsTTY(f *os.File) bool {
	if f == nil {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
