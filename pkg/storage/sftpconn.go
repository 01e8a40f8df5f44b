package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"sftpmirror/pkg/config"
	"sftpmirror/pkg/utils"
)

// SFTPConn is an SFTP session over its own SSH connection. Every remote call
// is bounded by the endpoint's I/O timeout.
type SFTPConn struct {
	sync.Mutex
	sshConn    *ssh.Client
	netConn    net.Conn
	sftpClient *sftp.Client
	ioTimeout  time.Duration
	closed     bool
}

// NewSFTPConn wraps an established session, mostly used for testing.
func NewSFTPConn(sshConn *ssh.Client, netConn net.Conn, sftpClient *sftp.Client, ioTimeout time.Duration) *SFTPConn {
	return &SFTPConn{
		sshConn:    sshConn,
		netConn:    netConn,
		sftpClient: sftpClient,
		ioTimeout:  ioTimeout,
	}
}

func createSSHConfig(cfg *config.EndpointConfig) (*ssh.ClientConfig, error) {
	if cfg.Password == "" {
		return nil, fmt.Errorf("password must be provided")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.ConnectTimeout(),
	}, nil
}

// Dial opens an SSH connection to the endpoint and starts the SFTP subsystem.
func Dial(ctx context.Context, cfg *config.EndpointConfig) (*SFTPConn, error) {
	sshConfig, err := createSSHConfig(cfg)
	if err != nil {
		return nil, err
	}

	sshConn, netConn, err := utils.SSHDialContext(ctx, "tcp", cfg.Addr(), sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ssh: %w", err)
	}

	conn := NewSFTPConn(sshConn, netConn, nil, cfg.IOTimeout())
	err = conn.guard(func() error {
		client, err := sftp.NewClient(sshConn)
		conn.sftpClient = client
		return err
	})
	if err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("failed to initialize sftp subsystem: %w", err)
	}

	return conn, nil
}

// guard runs fn with a deadline armed on the underlying connection. Between
// calls the connection carries no deadline, so an endpoint that sits idle
// while the other one is busy is not dropped.
func (s *SFTPConn) guard(fn func() error) error {
	if s.netConn == nil || s.ioTimeout <= 0 {
		return fn()
	}
	_ = s.netConn.SetDeadline(time.Now().Add(s.ioTimeout))
	defer func() { _ = s.netConn.SetDeadline(time.Time{}) }()
	return fn()
}

func (s *SFTPConn) ReadDir(p string) ([]os.FileInfo, error) {
	var infos []os.FileInfo
	err := s.guard(func() (err error) {
		infos, err = s.sftpClient.ReadDir(p)
		return err
	})
	return infos, err
}

func (s *SFTPConn) Stat(p string) (os.FileInfo, error) {
	var info os.FileInfo
	err := s.guard(func() (err error) {
		info, err = s.sftpClient.Stat(p)
		return err
	})
	return info, err
}

func (s *SFTPConn) Mkdir(p string) error {
	return s.guard(func() error { return s.sftpClient.Mkdir(p) })
}

func (s *SFTPConn) Rename(oldname, newname string) error {
	return s.guard(func() error { return s.sftpClient.Rename(oldname, newname) })
}

func (s *SFTPConn) Remove(p string) error {
	return s.guard(func() error { return s.sftpClient.Remove(p) })
}

func (s *SFTPConn) Open(p string) (io.ReadCloser, error) {
	var f *sftp.File
	err := s.guard(func() (err error) {
		f, err = s.sftpClient.Open(p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &guardedFile{file: f, conn: s}, nil
}

func (s *SFTPConn) Create(p string) (io.WriteCloser, error) {
	var f *sftp.File
	err := s.guard(func() (err error) {
		f, err = s.sftpClient.Create(p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &guardedFile{file: f, conn: s}, nil
}

func (s *SFTPConn) OpenFile(p string, flags int) (io.WriteCloser, error) {
	var f *sftp.File
	err := s.guard(func() (err error) {
		f, err = s.sftpClient.OpenFile(p, flags)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &guardedFile{file: f, conn: s}, nil
}

// Close closes the SFTP session and the SSH connection under it.
func (s *SFTPConn) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return fmt.Errorf("connection was already closed")
	}
	s.closed = true

	var firstErr error
	if s.sftpClient != nil {
		if err := s.sftpClient.Close(); err != nil {
			firstErr = err
		}
	}
	if s.sshConn != nil {
		if err := s.sshConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type guardedFile struct {
	file *sftp.File
	conn *SFTPConn
}

func (g *guardedFile) Read(p []byte) (n int, err error) {
	err = g.conn.guard(func() (err error) {
		n, err = g.file.Read(p)
		return err
	})
	return n, err
}

func (g *guardedFile) Write(p []byte) (n int, err error) {
	err = g.conn.guard(func() (err error) {
		n, err = g.file.Write(p)
		return err
	})
	return n, err
}

func (g *guardedFile) Close() error {
	return g.conn.guard(g.file.Close)
}
