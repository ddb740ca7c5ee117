// Package ssh runs commands and transfers files on remote hosts over SSH and
// SFTP.
package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// Client is a single SSH connection with a lazily opened SFTP session.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu          sync.RWMutex
	client      *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time
	lastUsedAt  time.Time
	stopKeep    chan struct{}
}

// NewClient creates a client for config. The connection is opened by Connect.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Address()).Logger(),
	}, nil
}

// Connect establishes the SSH connection. Connecting an open client checks
// the connection and reconnects when it is dead.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if err := c.healthCheckLocked(); err == nil {
			return nil
		}
		c.logger.Warn().Msg("Existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	c.logger.Debug().Msg("Establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", c.config.Address(), clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after the caller gave up.
		go func() {
			select {
			case client := <-connChan:
				_ = client.Close()
			case <-errChan:
			}
		}()
		return temporary("connect", ctx.Err())
	case err := <-errChan:
		return temporary("connect", err)
	case client := <-connChan:
		c.client = client
		c.connectedAt = time.Now()
		c.lastUsedAt = c.connectedAt

		if c.config.KeepAliveInterval > 0 {
			c.stopKeep = make(chan struct{})
			go c.keepAlive(client, c.stopKeep)
		}

		c.logger.Info().Msg("SSH connection established")
		return nil
	}
}

// Disconnect closes the SFTP session and the SSH connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	c.logger.Debug().Msg("Closing SSH connection")
	if err := c.closeLocked(); err != nil {
		return permanent("disconnect", err)
	}
	return nil
}

func (c *Client) closeLocked() error {
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// IsConnected returns true if the client has an open connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// HealthCheck runs a no-op command to verify the connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return permanent("healthcheck", fmt.Errorf("not connected"))
	}
	return c.healthCheckLocked()
}

func (c *Client) healthCheckLocked() error {
	session, err := c.client.NewSession()
	if err != nil {
		return temporary("healthcheck", err)
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return temporary("healthcheck", err)
	}
	return nil
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			c.logger.Warn().Err(err).Int("retries", retries).Msg("Keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				c.logger.Error().Msg("Keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
		c.touch()
	}
}

// Info returns information about the current connection.
func (c *Client) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

// User returns the login user.
func (c *Client) User() string {
	return c.config.User
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastUsedAt = time.Now()
	c.mu.Unlock()
}

func (c *Client) sshClient(op string) (*ssh.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, permanent(op, fmt.Errorf("not connected"))
	}
	c.touch()
	return client, nil
}

// sftpClient returns the SFTP session, opening it on first use.
func (c *Client) sftpClient(op string) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, permanent(op, fmt.Errorf("not connected"))
	}
	if c.sftp == nil {
		client, err := sftp.NewClient(c.client)
		if err != nil {
			return nil, temporary(op, fmt.Errorf("failed to create SFTP client: %w", err))
		}
		c.sftp = client
	}
	c.lastUsedAt = time.Now()
	return c.sftp, nil
}
