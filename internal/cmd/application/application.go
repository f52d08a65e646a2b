// Package application defines what command packages need from the CLI app.
package application

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/agentstation/taxonsync/internal/cmd/output"
	"github.com/agentstation/taxonsync/internal/config"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/report"
)

// Application is implemented by the CLI app and passed to every command.
type Application interface {
	// Config returns the configuration loaded before the command ran.
	Config() *config.Config
	// Viper returns the instance configuration was read through.
	Viper() *viper.Viper
	Logger() *zerolog.Logger
	// OutputFormat returns the --format flag, empty when unset.
	OutputFormat() string
	// OnShutdown registers cleanup run when the app shuts down.
	OnShutdown(fn func(context.Context) error)
}

// ErrRunFailed is returned when a run finished with failed tasks.
var ErrRunFailed = errors.New("run finished with failures")

// Finish renders r in the app's output format and turns failed tasks into
// a non-zero exit.
func Finish(app Application, w io.Writer, r *report.Report, err error) error {
	if r != nil {
		if renderErr := Render(app, w, r); renderErr != nil {
			return renderErr
		}
	}
	if err != nil {
		return err
	}
	if r.Counts.Failed > 0 {
		return fmt.Errorf("%w: %d of %d tasks failed", ErrRunFailed, r.Counts.Failed, r.Counts.Total())
	}
	return nil
}

// Render writes r in the app's output format.
func Render(app Application, w io.Writer, r *report.Report) error {
	format, err := output.ParseFormat(app.OutputFormat())
	if err != nil {
		return err
	}
	return output.NewFormatter(output.DetectFormat(string(format))).Format(w, r)
}
