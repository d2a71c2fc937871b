// Package launch starts the game executable after updates are applied.
package launch

import (
	"context"
	"log/slog"
	"os/exec"

	lerrors "github.com/ironpike/modloader/internal/errors"
	"github.com/ironpike/modloader/internal/logfields"
	"github.com/ironpike/modloader/internal/steam"
)

// Start launches the game detached from the launcher process. The working
// directory is the installation root so the executable resolves its data
// files the same way a Steam launch would.
func Start(ctx context.Context, inst *steam.Installation, args ...string) error {
	cmd := exec.CommandContext(ctx, inst.ExecutablePath, args...)
	cmd.Dir = inst.RootPath

	if err := cmd.Start(); err != nil {
		return lerrors.Wrap(err, lerrors.CategoryRuntime, lerrors.SeverityError,
			"failed to start game executable").
			WithContext("executable", inst.ExecutablePath)
	}

	slog.Info("Game started",
		logfields.Path(inst.ExecutablePath), slog.Int("pid", cmd.Process.Pid))

	// Detach: the launcher does not supervise the game process.
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("Game process exited", logfields.Error(err))
		}
	}()
	return nil
}
