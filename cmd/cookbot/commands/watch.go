package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbot/pkg/policy"
)

func newWatchCommand(a *app) *cobra.Command {
	return passthrough(&cobra.Command{
		Use:   "watch <command> [args...]",
		Short: "Run a command again whenever the tree definition changes",
		Long: `Run a command once, then again every time the tree definition or one of
the policy files changes. Failed runs are logged and watching goes on until
the process is interrupted.`,
		Example: `  # Keep a development tree installed while editing it
  cookbot watch install`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), args[0], args[1:])
		},
	})
}

// watch runs command on every change until ctx is done. Runs never overlap.
func (a *app) watch(ctx context.Context, command string, args []string) error {
	configPath, err := filepath.Abs(a.settings.Config)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so the directory is watched instead of
	// the file.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", configPath, err)
	}

	trigger := make(chan struct{}, 1)
	notify := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	if len(a.settings.Policy) > 0 {
		eng, err := a.policyEngine(ctx)
		if err != nil {
			return err
		}
		loader := policy.NewLoader(a.logger)
		err = loader.Watch(ctx, a.settings.Policy, func(policies []policy.Policy) error {
			if err := eng.AddPolicies(ctx, policies); err != nil {
				return err
			}
			notify()
			return nil
		})
		if err != nil {
			return err
		}
	}

	runOnce := func() {
		start := time.Now()
		if err := a.run(ctx, command, args); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error().Err(err).Str("command", command).Msg("Run failed, waiting for changes")
			return
		}
		a.logger.Info().
			Str("command", command).
			Dur("duration", time.Since(start)).
			Msg("Run finished, waiting for changes")
	}

	runOnce()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Stopped watching")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			a.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Tree definition changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(policy.ReloadDelay, notify)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn().Err(err).Msg("Watcher error")

		case <-trigger:
			runOnce()
		}
	}
}
