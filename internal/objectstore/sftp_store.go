package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero/sftpfs"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig holds connection settings for SFTPStore.
type SFTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	KeyFile  string
	// KnownHostsFile enables host key verification. Without it any host key is accepted.
	KnownHostsFile string
	BasePath       string
	PublicBaseURL  string
	Timeout        time.Duration
}

// SFTPStore keeps buckets as directories below BasePath on an SFTP server fronted by
// a web server at PublicBaseURL. Each operation opens its own connection and runs the
// FSStore logic over it.
type SFTPStore struct {
	cfg    SFTPConfig
	logger *zap.Logger
	dial   func() (*sftp.Client, error)
}

// NewSFTPStore validates cfg and returns a store.
func NewSFTPStore(cfg SFTPConfig, logger *zap.Logger) (*SFTPStore, error) {
	if cfg.Host == "" {
		return nil, errors.New("sftp: host is required")
	}
	if cfg.Password == "" && cfg.KeyFile == "" {
		return nil, errors.New("sftp: no authentication method provided")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "objects"
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &SFTPStore{cfg: cfg, logger: logger.Named("sftp_store")}
	s.dial = s.dialSSH
	if cfg.KnownHostsFile == "" {
		s.logger.Warn("sftp host key verification disabled; set storage.sftp.known_hosts", zap.String("host", cfg.Host))
	}
	return s, nil
}

func (s *SFTPStore) EnsureBucket(ctx context.Context, bucket string, opts BucketOptions) (bool, error) {
	var ok bool
	err := s.withStore(ctx, func(store *FSStore) error {
		var err error
		ok, err = store.EnsureBucket(ctx, bucket, opts)
		return err
	})
	return ok, err
}

func (s *SFTPStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	return s.withStore(ctx, func(store *FSStore) error {
		return store.PutObject(ctx, bucket, key, data, contentType)
	})
}

func (s *SFTPStore) PublicURL(bucket, key string) string {
	return publicURL(s.cfg.PublicBaseURL, bucket, key)
}

func (s *SFTPStore) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := s.withStore(ctx, func(store *FSStore) error {
		var err error
		objects, err = store.ListObjects(ctx, bucket, prefix)
		return err
	})
	return objects, err
}

func (s *SFTPStore) withStore(ctx context.Context, fn func(*FSStore) error) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(NewFSStore(sftpfs.New(client), s.cfg.BasePath, s.cfg.PublicBaseURL))
}

// connect dials in a goroutine so ctx can abandon a hanging handshake.
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		client, err := s.dial()
		resultChan <- connResult{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// The dial may still succeed; release it.
			if result := <-resultChan; result.client != nil {
				result.client.Close()
			}
		}()
		return nil, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			s.logger.Warn("sftp connection failed", zap.Error(result.err), zap.String("host", s.cfg.Host))
		}
		return result.client, result.err
	}
}

func (s *SFTPStore) dialSSH() (*sftp.Client, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	sshConn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("sftp: failed to connect: %w", err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("sftp: failed to create client: %w", err)
	}
	return client, nil
}

func (s *SFTPStore) clientConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
		}
		hostKeyCallback = callback
	}

	config := &ssh.ClientConfig{
		User:            s.cfg.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.Timeout,
	}

	switch {
	case s.cfg.KeyFile != "":
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		config.Auth = []ssh.AuthMethod{ssh.Password(s.cfg.Password)}
	}
	return config, nil
}
