package sftpclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type Config struct {
	Host                  string
	Port                  int
	User                  string
	Pass                  string
	RemoteDir             string
	InsecureIgnoreHostKey bool
	KnownHostsFile        string // defaults to ~/.ssh/known_hosts
}

func (cfg *Config) normalize() error {
	if cfg.Host == "" || cfg.User == "" || cfg.Pass == "" {
		return fmt.Errorf("sftp: missing env SFTP_HOST / SFTP_USER / SFTP_PASS")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/"
	}
	return nil
}

func (cfg Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sftp: known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("sftp: known_hosts: %w", err)
	}
	return cb, nil
}

// Mirror copies downloaded files to a remote directory over one SFTP
// connection. Upload is safe for concurrent use.
type Mirror struct {
	root   string
	client *sftp.Client
	closer io.Closer

	dirMu sync.Mutex
}

// Dial connects and returns a Mirror rooted at cfg.RemoteDir.
func Dial(ctx context.Context, cfg Config) (*Mirror, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	cb, err := cfg.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Pass)},
		HostKeyCallback: cb,
		Timeout:         20 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	// ctx for timeout/cancel
	type dialRes struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialRes, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, sshCfg)
		ch <- dialRes{client: c, err: err}
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, fmt.Errorf("sftp: dial canceled: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("sftp: dial error: %w", r.err)
		}
		sshClient = r.client
	}

	sftpCli, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp: new client: %w", err)
	}
	return newMirror(cfg.RemoteDir, sftpCli, sshClient), nil
}

func newMirror(root string, client *sftp.Client, closer io.Closer) *Mirror {
	return &Mirror{root: root, client: client, closer: closer}
}

// RemotePath maps a slash-separated path relative to the mirror root.
// Leading slashes and ".." segments cannot escape the root.
func (m *Mirror) RemotePath(rel string) string {
	rel = path.Clean("/" + strings.ReplaceAll(rel, "\\", "/"))
	return path.Join(m.root, rel)
}

// Upload copies localPath to rel under the mirror root, creating remote
// directories as needed, and returns the remote path.
func (m *Mirror) Upload(ctx context.Context, localPath, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	remotePath := m.RemotePath(rel)

	m.dirMu.Lock()
	err := m.client.MkdirAll(path.Dir(remotePath))
	m.dirMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("sftp: mkdir %s: %w", path.Dir(remotePath), err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("sftp: open local file: %w", err)
	}
	defer src.Close()

	dst, err := m.client.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("sftp: create remote file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("sftp: upload copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("sftp: close remote file: %w", err)
	}
	return remotePath, nil
}

func (m *Mirror) Close() error {
	err := m.client.Close()
	if m.closer != nil {
		if cerr := m.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
