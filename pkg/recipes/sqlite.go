package recipes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

// CommandMigrate is the extra command exposed by sqlite recipes.
const CommandMigrate = "migrate"

type sqliteOptions struct {
	Path       string `mapstructure:"path" validate:"required"`
	Migrations string `mapstructure:"migrations"`
}

// SQLite manages a local SQLite database and its schema migrations. Entering
// it pushes the database path for the recipes of its subtree.
//
// The migrate command takes "up" (the default), "down", "version" or
// "steps N".
type SQLite struct {
	engine.Base
	kit    *kit
	opts   sqliteOptions
	logger zerolog.Logger
}

func (k *kit) newSQLite(name string, options engine.Options) (engine.Recipe, error) {
	var opts sqliteOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}
	s := &SQLite{
		Base:   engine.NewBase(name, nil, options),
		kit:    k,
		opts:   opts,
		logger: k.recipeLogger("sqlite", name),
	}
	s.Expose(CommandMigrate, s.migrate)
	return s, nil
}

// path resolves the database path. Databases only live on the local host.
func (s *SQLite) path() (string, error) {
	transport, err := CurrentTransport(s.Stack(), s.kit.local)
	if err != nil {
		return "", err
	}
	if transport != s.kit.local {
		return "", engine.NewValidationError("sqlite databases are local only", nil).WithRecipe(s.Name())
	}
	return resolvePath(s.Stack(), s.opts.Path)
}

// open opens the database and checks the connection.
func (s *SQLite) open(ctx context.Context) (*sql.DB, error) {
	path, err := s.path()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// migrator opens the database with its migration source. Closing the
// migrator closes the database.
func (s *SQLite) migrator(ctx context.Context) (*migrate.Migrate, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	path, err := resolvePath(s.Stack(), s.opts.Migrations)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	sourceDriver, err := iofs.New(os.DirFS(path), ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	m.Log = migrateLogger{s.logger}
	return m, nil
}

// Install creates the database and applies every migration.
func (s *SQLite) Install(ctx context.Context) error {
	if s.opts.Migrations == "" {
		db, err := s.open(ctx)
		if err != nil {
			return err
		}
		// The file only exists once something is written.
		if _, err := db.ExecContext(ctx, "PRAGMA user_version = 0"); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to create database: %w", err)
		}
		return db.Close()
	}
	return s.migrate(ctx, nil)
}

// Update applies pending migrations.
func (s *SQLite) Update(ctx context.Context) error {
	if s.opts.Migrations == "" {
		return nil
	}
	return s.migrate(ctx, nil)
}

// Uninstall removes the database file and its WAL files.
func (s *SQLite) Uninstall(context.Context) error {
	path, err := s.path()
	if err != nil {
		return err
	}
	s.logger.Info().Str("path", path).Msg("Removing database")
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// IsInstalled reports whether the database file exists.
func (s *SQLite) IsInstalled(context.Context) (bool, error) {
	path, err := s.path()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// EnterContext pushes the database path.
func (s *SQLite) EnterContext(context.Context) error {
	path, err := s.path()
	if err != nil {
		return err
	}
	pushFrame(s.Stack(), KeyDatabase, path)
	return nil
}

// ExitContext pops the database path.
func (s *SQLite) ExitContext(context.Context) error {
	return popFrames(s.Stack(), KeyDatabase)
}

func (s *SQLite) migrate(ctx context.Context, args []string) error {
	if s.opts.Migrations == "" {
		return engine.NewValidationError("option \"migrations\" is required to migrate", nil).WithRecipe(s.Name())
	}

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	m, err := s.migrator(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if _, cerr := m.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("Failed to close migrator")
		}
	}()

	// Migrations stop between steps once the context is done.
	stop := context.AfterFunc(ctx, func() {
		select {
		case m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	switch action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(args) != 2 {
			return engine.NewValidationError("usage: migrate steps N", nil).WithRecipe(s.Name())
		}
		n, perr := strconv.Atoi(args[1])
		if perr != nil {
			return engine.NewValidationError(fmt.Sprintf("invalid step count %q", args[1]), perr).WithRecipe(s.Name())
		}
		err = m.Steps(n)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			s.logger.Info().Msg("No migration applied")
			return nil
		}
		if verr != nil {
			return verr
		}
		s.logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
		return nil
	default:
		return engine.NewValidationError(fmt.Sprintf("unknown migrate action %q", action), nil).WithRecipe(s.Name())
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// migrateLogger routes migrate's messages to zerolog.
type migrateLogger struct {
	logger zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return l.logger.GetLevel() <= zerolog.DebugLevel
}
