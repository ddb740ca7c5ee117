package recipes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"
	sshtransport "github.com/openfroyo/cookbot/pkg/transports/ssh"
)

// Connector opens a transport to the machine described by cfg, trying at
// most attempts times.
type Connector func(ctx context.Context, cfg *sshtransport.Config, attempts uint) (Transport, error)

type machineOptions struct {
	Host       string        `mapstructure:"host" validate:"required"`
	Port       int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	User       string        `mapstructure:"user"`
	Key        string        `mapstructure:"key"`
	Passphrase string        `mapstructure:"passphrase"`
	Password   string        `mapstructure:"password"`
	KnownHosts string        `mapstructure:"known_hosts"`
	Insecure   bool          `mapstructure:"insecure"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retries    uint          `mapstructure:"retries" validate:"gte=1"`
}

// Machine connects to a host over SSH. While it is entered, every recipe of
// its subtree runs commands and writes files on that host.
type Machine struct {
	engine.Base
	kit       *kit
	cfg       *sshtransport.Config
	retries   uint
	transport Transport
	logger    zerolog.Logger
}

func (k *kit) newMachine(name string, options engine.Options) (engine.Recipe, error) {
	opts := machineOptions{Port: 22, Timeout: 30 * time.Second, Retries: 3}
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}

	login := opts.User
	if login == "" {
		if u, err := user.Current(); err == nil {
			login = u.Username
		} else {
			login = os.Getenv("USER")
		}
	}

	cfg := sshtransport.DefaultConfig(opts.Host, login)
	cfg.Port = opts.Port
	cfg.ConnectionTimeout = opts.Timeout
	cfg.PrivateKeyPath = opts.Key
	cfg.PrivateKeyPassphrase = opts.Passphrase
	cfg.StrictHostKeyChecking = !opts.Insecure
	if opts.KnownHosts != "" {
		cfg.KnownHostsPath = opts.KnownHosts
	}
	if opts.Password != "" {
		cfg.AuthMethod = sshtransport.AuthMethodPassword
		cfg.Password = opts.Password
	}

	return &Machine{
		Base:    engine.NewBase(name, nil, options),
		kit:     k,
		cfg:     cfg,
		retries: opts.Retries,
		logger:  k.recipeLogger("machine", name).With().Str("host", cfg.Address()).Logger(),
	}, nil
}

// Host returns the SSH address of the machine.
func (m *Machine) Host() string {
	return m.cfg.Address()
}

// EnterContext connects and pushes the transport and the host.
func (m *Machine) EnterContext(ctx context.Context) error {
	m.logger.Info().Msg("Connecting to machine")
	transport, err := m.kit.connect(ctx, m.cfg, m.retries)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.cfg.Address(), err)
	}
	m.transport = transport

	pushFrame(m.Stack(), KeyTransport, transport)
	pushFrame(m.Stack(), KeyMachine, m.cfg.Host)
	return nil
}

// ExitContext pops the frames and closes the connection.
func (m *Machine) ExitContext(context.Context) error {
	err := popFrames(m.Stack(), KeyMachine, KeyTransport)
	if m.transport != nil {
		if cerr := m.transport.Close(); cerr != nil {
			m.logger.Warn().Err(cerr).Msg("Failed to close connection")
		}
		m.transport = nil
	}
	return err
}

// dialSSH connects with exponential backoff. Temporary transport errors are
// retried up to the configured number of attempts.
func (k *kit) dialSSH(ctx context.Context, cfg *sshtransport.Config, attempts uint) (Transport, error) {
	client, err := backoff.Retry(ctx, func() (*sshtransport.Client, error) {
		client, err := sshtransport.NewClient(cfg, k.logger)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := client.Connect(ctx); err != nil {
			var terr *sshtransport.TransportError
			if errors.As(err, &terr) && terr.Temporary() && !terr.IsAuthError {
				k.logger.Warn().Err(err).Str("host", cfg.Address()).Msg("Connection attempt failed")
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return client, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(attempts),
	)
	if err != nil {
		return nil, err
	}
	return NewRemoteTransport(client), nil
}
