package sftpclient

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
)

func TestConfigNormalize(t *testing.T) {
	cfg := Config{
		Host: "test-host",
		User: "test-user",
		Pass: "test-pass",
	}

	if err := cfg.normalize(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.Port != 22 {
		t.Errorf("Expected default Port to be 22, got %d", cfg.Port)
	}
	if cfg.RemoteDir != "/" {
		t.Errorf("Expected default RemoteDir to be \"/\", got %q", cfg.RemoteDir)
	}
}

func TestDialValidation(t *testing.T) {
	ctx := context.Background()

	const (
		testUser = "test-user"
		testPass = "test-pass"
	)

	testCases := []struct {
		name          string
		cfg           Config
		errorContains string
	}{
		{
			name:          "Missing credentials",
			cfg:           Config{},
			errorContains: "sftp: missing env SFTP_HOST / SFTP_USER / SFTP_PASS",
		},
		{
			name: "Missing known_hosts file",
			cfg: Config{
				Host:           "127.0.0.1",
				User:           testUser,
				Pass:           testPass,
				KnownHostsFile: filepath.Join(t.TempDir(), "absent"),
			},
			errorContains: "sftp: known_hosts",
		},
		{
			name: "Nothing listening",
			cfg: Config{
				Host:                  "127.0.0.1",
				Port:                  1,
				User:                  testUser,
				Pass:                  testPass,
				InsecureIgnoreHostKey: true,
			},
			errorContains: "sftp: dial error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Dial(ctx, tc.cfg)
			if err == nil {
				m.Close()
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.errorContains) {
				t.Errorf("Expected error to contain %q, got %q", tc.errorContains, err.Error())
			}
		})
	}
}

func TestRemotePath(t *testing.T) {
	m := newMirror("/courses", nil, nil)

	testCases := []struct {
		rel      string
		expected string
	}{
		{"go/01 - Intro/video.mp4", "/courses/go/01 - Intro/video.mp4"},
		{"/abs/file.pdf", "/courses/abs/file.pdf"},
		{"../../etc/passwd", "/courses/etc/passwd"},
		{`win\style\file.zip`, "/courses/win/style/file.zip"},
	}

	for _, tc := range testCases {
		if got := m.RemotePath(tc.rel); got != tc.expected {
			t.Errorf("RemotePath(%q) = %q, want %q", tc.rel, got, tc.expected)
		}
	}
}

// inMemoryMirror serves an in-memory SFTP filesystem over a pipe.
func inMemoryMirror(t *testing.T) *Mirror {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatalf("Failed to start sftp client: %v", err)
	}
	m := newMirror("/courses", client, server)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMirrorUpload(t *testing.T) {
	m := inMemoryMirror(t)

	local := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(local, []byte("frames"), 0o644); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, rel := range []string{"go/01 - Intro/01 - Hello/a.mp4", "go/01 - Intro/02 - World/b.mp4", "go/02 - Next/01 - More/c.mp4"} {
		wg.Add(1)
		go func(rel string) {
			defer wg.Done()
			_, err := m.Upload(context.Background(), local, rel)
			errs <- err
		}(rel)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Upload returned error: %v", err)
		}
	}

	f, err := m.client.Open("/courses/go/01 - Intro/02 - World/b.mp4")
	if err != nil {
		t.Fatalf("Expected remote file to exist: %v", err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "frames" {
		t.Errorf("Remote content = %q, want %q", b, "frames")
	}
}

func TestMirrorUploadMissingLocalFile(t *testing.T) {
	m := inMemoryMirror(t)

	_, err := m.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "x/y.bin")
	if err == nil || !strings.Contains(err.Error(), "sftp: open local file") {
		t.Errorf("Expected open error, got %v", err)
	}
}

func TestMirrorUploadCanceled(t *testing.T) {
	m := inMemoryMirror(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Upload(ctx, "irrelevant", "x"); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
