package transfer

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SFTPProvider uploads files over SFTP with key-based authentication.
type SFTPProvider struct {
	dial   func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
	logger zerolog.Logger
}

// NewSFTPProvider creates the SFTP provider.
func NewSFTPProvider(logger zerolog.Logger) *SFTPProvider {
	return &SFTPProvider{dial: ssh.Dial, logger: logger}
}

// NewSFTPProviderWithDialer creates an SFTP provider with a custom dialer
// (for testing).
func NewSFTPProviderWithDialer(logger zerolog.Logger, dial func(string, string, *ssh.ClientConfig) (*ssh.Client, error)) *SFTPProvider {
	return &SFTPProvider{dial: dial, logger: logger}
}

func (p *SFTPProvider) clientConfig(target models.TargetConfig) (*ssh.ClientConfig, error) {
	if target.KeyPath == "" {
		return nil, fmt.Errorf("target %s: KeyPath is required for SFTP", target.InstanceName)
	}
	key, err := os.ReadFile(target.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	user := target.Username
	if user == "" {
		user = "backup"
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // backup LAN targets
		Timeout:         30 * time.Second,
	}, nil
}

// Transfer uploads one file into <RemoteDir>/<JobName>/.
func (p *SFTPProvider) Transfer(ctx context.Context, localPath string, target models.TargetConfig, meta JobMetadata) models.TransferOutcome {
	start := time.Now()

	port := target.Port
	if port == 0 {
		port = 22
	}
	remoteDir := path.Join(target.RemoteDir, meta.JobName)
	remotePath := path.Join(remoteDir, filepath.Base(localPath))

	outcome := models.TransferOutcome{RemotePath: remotePath}
	fail := func(format string, args ...any) models.TransferOutcome {
		outcome.ErrorMessage = fmt.Sprintf(format, args...)
		outcome.TransferDuration = time.Since(start)
		return outcome
	}

	cfg, err := p.clientConfig(target)
	if err != nil {
		return fail("%v", err)
	}

	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", port))
	client, err := p.dial("tcp", addr, cfg)
	if err != nil {
		return fail("connecting to %s: %v", addr, err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fail("opening sftp session: %v", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return fail("creating remote directory %s: %v", remoteDir, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fail("opening local file: %v", err)
	}
	defer src.Close()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return fail("creating remote file: %v", err)
	}

	written, err := copyWithContext(ctx, dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return fail("uploading: %v", err)
	}

	outcome.Success = true
	outcome.TransferSize = written
	outcome.TransferDuration = time.Since(start)

	p.logger.Debug().
		Str("target", target.InstanceName).
		Str("remote", remotePath).
		Int64("bytes", written).
		Msg("file uploaded via SFTP")
	return outcome
}
