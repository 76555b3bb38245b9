// Package fetch mirrors grib archives from an FTP server into the local input
// directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"

	"github.com/lox/era5tools/internal/metrics"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxElapsed = 2 * time.Minute
)

// Conn is the part of an FTP session the mirror needs.
type Conn interface {
	List(dir string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// Dialer opens a logged-in session.
type Dialer func(ctx context.Context) (Conn, error)

// FTPDialer dials addr (host:port) and logs in. An empty user logs in
// anonymously.
func FTPDialer(addr, user, password string, timeout time.Duration) Dialer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	return func(ctx context.Context) (Conn, error) {
		conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("ftp dial: %w", err)
		}
		if err := conn.Login(user, password); err != nil {
			conn.Quit()
			return nil, fmt.Errorf("ftp login: %w", err)
		}
		return &serverConn{conn}, nil
	}
}

type serverConn struct {
	*ftp.ServerConn
}

func (c *serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type Config struct {
	RemoteDir string
	LocalDir  string
	// Suffixes selects remote files by name; every file is taken when empty.
	Suffixes []string
	// MaxElapsed bounds the retries of a single list or download.
	MaxElapsed time.Duration
	// InitialInterval is the first retry delay; the backoff default when zero.
	InitialInterval time.Duration
	FailFast        bool
}

// Remote is a file on the server.
type Remote struct {
	Path string
	Name string
	Size uint64
	Time time.Time
}

type Report struct {
	Listed     int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
	// Files are the local paths written by this sync.
	Files []string
}

type Client struct {
	dial    Dialer
	cfg     Config
	log     *logrus.Entry
	metrics *metrics.Metrics
}

func New(dial Dialer, cfg Config, log *logrus.Entry, m *metrics.Metrics) *Client {
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaultMaxElapsed
	}
	return &Client{
		dial:    dial,
		cfg:     cfg,
		log:     log.WithField("component", "fetch"),
		metrics: m,
	}
}

// List returns the regular files in RemoteDir matching Suffixes, by name.
func (c *Client) List(ctx context.Context) ([]Remote, error) {
	var remotes []Remote
	err := c.withConn(ctx, "list "+c.cfg.RemoteDir, func(conn Conn) error {
		entries, err := conn.List(c.cfg.RemoteDir)
		if err != nil {
			return fmt.Errorf("ftp list: %w", err)
		}
		remotes = remotes[:0]
		for _, e := range entries {
			if e.Type != ftp.EntryTypeFile || !c.wanted(e.Name) {
				continue
			}
			remotes = append(remotes, Remote{
				Path: path.Join(c.cfg.RemoteDir, e.Name),
				Name: e.Name,
				Size: e.Size,
				Time: e.Time,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(remotes, func(i, j int) bool { return remotes[i].Name < remotes[j].Name })
	return remotes, nil
}

func (c *Client) wanted(name string) bool {
	if len(c.cfg.Suffixes) == 0 {
		return true
	}
	for _, s := range c.cfg.Suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// LocalPath is where r is stored.
func (c *Client) LocalPath(r Remote) string {
	return filepath.Join(c.cfg.LocalDir, r.Name)
}

// Download retrieves r into LocalDir through a .part file, returning the
// number of bytes written.
func (c *Client) Download(ctx context.Context, r Remote) (int64, error) {
	local := c.LocalPath(r)
	part := local + ".part"

	var written int64
	err := c.withConn(ctx, "retr "+r.Path, func(conn Conn) error {
		body, err := conn.Retr(r.Path)
		if err != nil {
			return fmt.Errorf("ftp retr: %w", err)
		}
		defer body.Close()

		f, err := os.Create(part)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create %s: %w", part, err))
		}
		n, copyErr := io.Copy(f, body)
		closeErr := f.Close()
		if copyErr != nil {
			os.Remove(part)
			return fmt.Errorf("read %s: %w", r.Path, copyErr)
		}
		if closeErr != nil {
			os.Remove(part)
			return backoff.Permanent(fmt.Errorf("write %s: %w", part, closeErr))
		}
		if r.Size > 0 && uint64(n) != r.Size {
			os.Remove(part)
			return fmt.Errorf("short transfer of %s: got %d of %d bytes", r.Path, n, r.Size)
		}
		written = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := os.Rename(part, local); err != nil {
		return 0, fmt.Errorf("rename %s: %w", part, err)
	}
	return written, nil
}

// Sync downloads every listed file not already present locally with the same
// size.
func (c *Client) Sync(ctx context.Context) (Report, error) {
	var report Report

	if err := os.MkdirAll(c.cfg.LocalDir, 0o755); err != nil {
		return report, fmt.Errorf("create local dir: %w", err)
	}

	remotes, err := c.List(ctx)
	if err != nil {
		return report, err
	}
	report.Listed = len(remotes)

	var errs *multierror.Error
	for _, r := range remotes {
		if err := ctx.Err(); err != nil {
			return report, multierror.Append(errs, err).ErrorOrNil()
		}

		if info, err := os.Stat(c.LocalPath(r)); err == nil && (r.Size == 0 || uint64(info.Size()) == r.Size) {
			report.Skipped++
			continue
		}

		n, err := c.Download(ctx, r)
		if err != nil {
			report.Failed++
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", r.Name, err))
			c.log.WithError(err).WithField("remote", r.Path).Warn("fetch: download failed")
			if c.cfg.FailFast || ctx.Err() != nil {
				return report, errs.ErrorOrNil()
			}
			continue
		}

		report.Downloaded++
		report.Bytes += n
		report.Files = append(report.Files, c.LocalPath(r))
		if c.metrics != nil {
			c.metrics.Produced("archive", n)
		}
		c.log.Infof("fetch: %s (%s)", r.Name, humanize.Bytes(uint64(n)))
	}

	c.log.Infof("fetch: %d listed, %d downloaded (%s), %d already present, %d failed",
		report.Listed, report.Downloaded, humanize.Bytes(uint64(report.Bytes)), report.Skipped, report.Failed)
	return report, errs.ErrorOrNil()
}

// withConn runs fn on a fresh session, retrying transient failures with
// exponential backoff. Each attempt dials again.
func (c *Client) withConn(ctx context.Context, op string, fn func(Conn) error) error {
	operation := func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			return classify(ctx, err)
		}
		defer conn.Quit()
		return classify(ctx, fn(conn))
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.cfg.MaxElapsed
	if c.cfg.InitialInterval > 0 {
		bo.InitialInterval = c.cfg.InitialInterval
	}

	notify := func(err error, wait time.Duration) {
		if c.metrics != nil {
			c.metrics.FetchRetries.Inc()
		}
		c.log.WithError(err).Warnf("fetch: %s failed, retrying in %s", op, wait.Round(time.Millisecond))
	}
	return backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify)
}

// classify marks errors that another attempt cannot fix as permanent: bad
// credentials, missing files and cancellation.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return err
	}
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case ftp.StatusNotLoggedIn, ftp.StatusFileUnavailable:
			return backoff.Permanent(err)
		}
	}
	return err
}
