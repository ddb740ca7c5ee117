package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// Upload writes data to remotePath, creating parent directories. A non-zero
// mode is applied after the write.
func (c *Client) Upload(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error {
	client, err := c.sftpClient("upload")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return permanent("upload", err)
	}

	c.logger.Debug().
		Str("remote", remotePath).
		Int("bytes", len(data)).
		Msg("Uploading file")

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return permanent("upload", fmt.Errorf("failed to create remote directory: %w", err))
	}

	file, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return temporary("upload", fmt.Errorf("failed to create remote file: %w", err))
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return temporary("upload", fmt.Errorf("failed to write remote file: %w", err))
	}
	if err := file.Close(); err != nil {
		return temporary("upload", err)
	}

	if mode != 0 {
		if err := client.Chmod(remotePath, mode); err != nil {
			return permanent("upload", fmt.Errorf("failed to set file permissions: %w", err))
		}
	}
	return nil
}

// Download reads the whole remote file.
func (c *Client) Download(ctx context.Context, remotePath string) ([]byte, error) {
	client, err := c.sftpClient("download")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, permanent("download", err)
	}

	file, err := client.Open(remotePath)
	if err != nil {
		return nil, permanent("download", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, temporary("download", err)
	}
	return data, nil
}

// Remove deletes remotePath. With recursive, directories are removed with
// their contents. A missing path is not an error.
func (c *Client) Remove(ctx context.Context, remotePath string, recursive bool) error {
	client, err := c.sftpClient("remove")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return permanent("remove", err)
	}

	info, err := client.Lstat(remotePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return permanent("remove", err)
	}

	if info.IsDir() && recursive {
		err = removeTree(client, remotePath)
	} else if info.IsDir() {
		err = client.RemoveDirectory(remotePath)
	} else {
		err = client.Remove(remotePath)
	}
	if err != nil {
		return permanent("remove", err)
	}
	return nil
}

func removeTree(client *sftp.Client, dir string) error {
	entries, err := client.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		child := path.Join(dir, entry.Name())
		if entry.IsDir() {
			err = removeTree(client, child)
		} else {
			err = client.Remove(child)
		}
		if err != nil {
			return err
		}
	}
	return client.RemoveDirectory(dir)
}

// MkdirAll creates remotePath and its parents, then applies mode.
func (c *Client) MkdirAll(ctx context.Context, remotePath string, mode os.FileMode) error {
	client, err := c.sftpClient("mkdir")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return permanent("mkdir", err)
	}

	if err := client.MkdirAll(remotePath); err != nil {
		return permanent("mkdir", err)
	}
	if mode != 0 {
		if err := client.Chmod(remotePath, mode); err != nil {
			return permanent("mkdir", err)
		}
	}
	return nil
}

// Stat reports whether remotePath exists.
func (c *Client) Stat(ctx context.Context, remotePath string) (bool, error) {
	client, err := c.sftpClient("stat")
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, permanent("stat", err)
	}

	if _, err := client.Stat(remotePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, permanent("stat", err)
	}
	return true, nil
}
