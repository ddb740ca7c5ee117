package recipes

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"
)

type directoryOptions struct {
	Path  string `mapstructure:"path" validate:"required"`
	Mode  uint32 `mapstructure:"mode"`
	Purge bool   `mapstructure:"purge"`
}

// Directory manages a directory and makes it the working directory of its
// subtree.
type Directory struct {
	engine.Base
	kit    *kit
	opts   directoryOptions
	path   string
	logger zerolog.Logger
}

func (k *kit) newDirectory(name string, options engine.Options) (engine.Recipe, error) {
	opts := directoryOptions{Mode: 0o755}
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return &Directory{
		Base:   engine.NewBase(name, nil, options),
		kit:    k,
		opts:   opts,
		logger: k.recipeLogger("directory", name),
	}, nil
}

// target resolves the path against the parent working directory. While the
// directory is entered its own frame is the working directory, so the path
// resolved on entry is used instead.
func (d *Directory) target() (string, Transport, error) {
	path := d.path
	if path == "" {
		var err error
		if path, err = resolvePath(d.Stack(), d.opts.Path); err != nil {
			return "", nil, err
		}
	}
	transport, err := CurrentTransport(d.Stack(), d.kit.local)
	return path, transport, err
}

// Install creates the directory.
func (d *Directory) Install(ctx context.Context) error {
	path, transport, err := d.target()
	if err != nil {
		return err
	}
	d.logger.Info().Str("path", path).Msg("Creating directory")
	return transport.MkdirAll(ctx, path, os.FileMode(d.opts.Mode))
}

// Update applies the mode again.
func (d *Directory) Update(ctx context.Context) error {
	return d.Install(ctx)
}

// Uninstall removes the directory, with its contents when purge is set.
func (d *Directory) Uninstall(ctx context.Context) error {
	path, transport, err := d.target()
	if err != nil {
		return err
	}
	d.logger.Info().Str("path", path).Bool("purge", d.opts.Purge).Msg("Removing directory")
	return transport.Remove(ctx, path, d.opts.Purge)
}

// IsInstalled reports whether the directory exists.
func (d *Directory) IsInstalled(ctx context.Context) (bool, error) {
	path, transport, err := d.target()
	if err != nil {
		return false, err
	}
	return transport.Stat(ctx, path)
}

// EnterContext pushes the directory as the working directory.
func (d *Directory) EnterContext(context.Context) error {
	path, err := resolvePath(d.Stack(), d.opts.Path)
	if err != nil {
		return err
	}
	d.path = path
	pushFrame(d.Stack(), KeyCwd, path)
	return nil
}

// ExitContext pops the working directory.
func (d *Directory) ExitContext(context.Context) error {
	d.path = ""
	return popFrames(d.Stack(), KeyCwd)
}
