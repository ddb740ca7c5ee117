package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how a client authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// defaultKeys are tried in order under ~/.ssh when key authentication names
// no key.
var defaultKeys = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// Config describes how to reach one machine.
type Config struct {
	Host string
	Port int
	User string

	AuthMethod           AuthMethod
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath. When
	// false any host key is accepted.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration
	// CommandTimeout bounds commands whose context has no deadline.
	CommandTimeout    time.Duration

	// A zero KeepAliveInterval disables keep-alives.
	KeepAliveInterval   time.Duration
	MaxKeepAliveRetries int
}

// DefaultConfig returns key authentication on port 22 with strict host key
// checking against ~/.ssh/known_hosts.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(sshDir(), "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        5 * time.Minute,
		MaxKeepAliveRetries:   3,
	}
}

func sshDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".ssh")
}

// Validate checks the configuration. Key authentication without a key path
// picks the first default key found under ~/.ssh.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	case c.ConnectionTimeout <= 0:
		return errors.New("connection timeout must be positive")
	case c.CommandTimeout <= 0:
		return errors.New("command timeout must be positive")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return errors.New("password is required for password authentication")
		}
		return nil

	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = findDefaultKey(sshDir())
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("no private key given and none of %v found in %s", defaultKeys, sshDir())
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
}

func findDefaultKey(dir string) string {
	for _, name := range defaultKeys {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// BuildSSHClientConfig creates the x/crypto client configuration.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	callback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: callback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Many servers only prompt for passwords through keyboard-interactive.
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil

	case AuthMethodKey:
		pem, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase == "" {
			signer, err = ssh.ParsePrivateKey(pem)
		} else {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return callback, nil
}

// Address returns host:port, bracketing IPv6 hosts.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
