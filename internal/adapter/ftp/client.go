// Package ftp fetches raw precipitation files from the data provider's FTP
// server.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// Config holds the connection settings. Credentials come from the environment.
type Config struct {
	Server    string // host or host:port
	Username  string
	Password  string
	RemoteDir string
	Timeout   time.Duration
}

// controlConn is the subset of an FTP control connection the client uses.
type controlConn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	NameList(path string) ([]string, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// serverConn adapts *ftp.ServerConn to controlConn.
type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// defaultPort is used when Server names only a host.
const defaultPort = "21"

// serverAddr returns server as host:port, adding the default FTP port to a
// bare host.
func serverAddr(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	host := strings.TrimSuffix(strings.TrimPrefix(server, "["), "]")
	return net.JoinHostPort(host, defaultPort)
}

type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (controlConn, error)

func dial(ctx context.Context, addr string, timeout time.Duration) (controlConn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(timeout))
	}
	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return serverConn{c}, nil
}

// Client is a single FTP session. It implements download.Source.
type Client struct {
	cfg    Config
	dial   dialFunc
	conn   controlConn
	logger *slog.Logger
}

// New creates an unconnected client.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{cfg: cfg, dial: dial, logger: logger}
}

// Connect dials, logs in and changes to the remote directory.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.Server == "" {
		return errors.New("ftp: no server configured")
	}
	sc, err := c.dial(ctx, serverAddr(c.cfg.Server), c.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", c.cfg.Server, err)
	}
	if err := sc.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = sc.Quit()
		return fmt.Errorf("ftp login %s: %w", c.cfg.Server, err)
	}
	if c.cfg.RemoteDir != "" {
		if err := sc.ChangeDir(c.cfg.RemoteDir); err != nil {
			_ = sc.Quit()
			return fmt.Errorf("ftp cwd %s: %w", c.cfg.RemoteDir, err)
		}
	}
	c.conn = sc
	c.logger.Info("connected to ftp server", "server", c.cfg.Server, "dir", c.cfg.RemoteDir)
	return nil
}

// List returns the file names in the remote directory.
func (c *Client) List(ctx context.Context) ([]string, error) {
	if c.conn == nil {
		return nil, errors.New("ftp: not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := c.conn.NameList("")
	if err != nil {
		return nil, fmt.Errorf("ftp list: %w", err)
	}
	// Some servers return full paths from NLST.
	for i, n := range names {
		names[i] = path.Base(n)
	}
	return names, nil
}

// Fetch streams the named remote file into w.
func (c *Client) Fetch(ctx context.Context, name string, w io.Writer) error {
	if c.conn == nil {
		return errors.New("ftp: not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := c.conn.Retr(name)
	if err != nil {
		return fmt.Errorf("ftp retr %s: %w", name, err)
	}
	_, copyErr := io.Copy(w, r)
	// Close reads the transfer-complete reply and must always run.
	if err := errors.Join(copyErr, r.Close()); err != nil {
		return fmt.Errorf("ftp retr %s: %w", name, err)
	}
	return nil
}

// Close ends the session. Closing an unconnected client is a no-op.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("ftp quit: %w", err)
	}
	c.logger.Info("ftp connection closed", "server", c.cfg.Server)
	return nil
}
