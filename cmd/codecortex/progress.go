package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// ProgressConfig determines if and how progress should be displayed,
// grounded on the teacher's cmd/cie/progress.go TTY-detection gate.
type ProgressConfig struct {
	Enabled bool
	Writer  io.Writer
	NoColor bool
}

// NewProgressConfig disables progress when stderr isn't a TTY or the
// caller asked for quiet/JSON output, matching NewProgressConfig in the
// teacher's cmd/cie.
func NewProgressConfig(quiet, noColor bool) ProgressConfig {
	return ProgressConfig{
		Enabled: !quiet && isatty.IsTerminal(os.Stderr.Fd()),
		Writer:  os.Stderr,
		NoColor: noColor,
	}
}

// NewSpinner creates an indeterminate spinner for operations whose total
// item count isn't known up front, such as waiting on a Bootstrap pass
// whose file count isn't available until it finishes. Returns nil if
// progress is disabled, so callers can call methods on it unconditionally
// via the nil-safe wrapper below.
func NewSpinner(cfg ProgressConfig, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cfg.Writer),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!cfg.NoColor),
	)
}

// runSpinner ticks bar every 65ms until done is closed. Safe to call with
// a nil bar (progress disabled).
func runSpinner(bar *progressbar.ProgressBar, done <-chan struct{}) {
	if bar == nil {
		<-done
		return
	}
	ticker := time.NewTicker(65 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			bar.Finish()
			return
		case <-ticker.C:
			bar.Add(1)
		}
	}
}
