package wifi

import (
	"fmt"
	"os"
	"syscall"

	"github.com/rs/zerolog"
)

// Restarter performs a full process restart. It does not return on success.
type Restarter interface {
	Restart(reason string) error
}

// ExecRestarter replaces the running process image with a fresh copy of the
// same binary and arguments.
type ExecRestarter struct {
	logger zerolog.Logger
	exec   func(argv0 string, argv []string, envv []string) error
}

func NewExecRestarter(logger zerolog.Logger) *ExecRestarter {
	return &ExecRestarter{logger: logger, exec: syscall.Exec}
}

func (r *ExecRestarter) Restart(reason string) error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	r.logger.Error().Str("reason", reason).Str("path", path).Msg("Restarting node")

	if err := r.exec(path, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("failed to exec %s: %w", path, err)
	}
	return nil
}
