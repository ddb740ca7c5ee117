package recipes

import (
	"bytes"
	"context"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"
)

type fileOptions struct {
	Path    string `mapstructure:"path" validate:"required"`
	Content string `mapstructure:"content"`
	Mode    uint32 `mapstructure:"mode"`
}

// File writes a file through the current transport: a local write, or an
// SFTP upload inside a machine.
type File struct {
	engine.Base
	kit    *kit
	opts   fileOptions
	logger zerolog.Logger
}

func (k *kit) newFile(name string, options engine.Options) (engine.Recipe, error) {
	opts := fileOptions{Mode: 0o644}
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return &File{
		Base:   engine.NewBase(name, nil, options),
		kit:    k,
		opts:   opts,
		logger: k.recipeLogger("file", name),
	}, nil
}

func (f *File) target() (string, Transport, error) {
	path, err := resolvePath(f.Stack(), f.opts.Path)
	if err != nil {
		return "", nil, err
	}
	transport, err := CurrentTransport(f.Stack(), f.kit.local)
	return path, transport, err
}

// Install writes the content.
func (f *File) Install(ctx context.Context) error {
	path, transport, err := f.target()
	if err != nil {
		return err
	}
	f.logger.Info().
		Str("path", path).
		Str("size", humanize.Bytes(uint64(len(f.opts.Content)))).
		Msg("Writing file")
	return transport.WriteFile(ctx, path, []byte(f.opts.Content), os.FileMode(f.opts.Mode))
}

// Update writes the content again.
func (f *File) Update(ctx context.Context) error {
	return f.Install(ctx)
}

// Uninstall removes the file.
func (f *File) Uninstall(ctx context.Context) error {
	path, transport, err := f.target()
	if err != nil {
		return err
	}
	f.logger.Info().Str("path", path).Msg("Removing file")
	return transport.Remove(ctx, path, false)
}

// IsInstalled reports whether the file exists with the expected content.
func (f *File) IsInstalled(ctx context.Context) (bool, error) {
	path, transport, err := f.target()
	if err != nil {
		return false, err
	}
	exists, err := transport.Stat(ctx, path)
	if err != nil || !exists {
		return false, err
	}
	data, err := transport.ReadFile(ctx, path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(data, []byte(f.opts.Content)), nil
}
