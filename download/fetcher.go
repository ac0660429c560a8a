package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// NetworkError reports a failed transfer. Fetches are not retried; the
// error aborts the pipeline before it starts.
type NetworkError struct {
	URL   string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

// getClient initializes (if needed) and returns the shared HTTP client.
func getClient() *http.Client {
	httpClientOnce.Do(func() {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
		}
	})
	return httpClient
}

// Fetch retrieves one remote archive to destPath, skipping the transfer
// entirely when the file is already cached (no checksum or freshness check,
// a stale cache is accepted). The transfer is capped at limitKBps kilobytes
// per second; zero disables the cap. http(s) and ftp URLs are supported.
func Fetch(ctx context.Context, rawURL, destPath string, limitKBps int) error {
	if _, err := os.Stat(destPath); err == nil {
		log.Infof("Skipping %s, already cached", filepath.Base(destPath))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return &NetworkError{URL: rawURL, Cause: err}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &NetworkError{URL: rawURL, Cause: err}
	}

	partPath := destPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return &NetworkError{URL: rawURL, Cause: err}
	}

	switch parsed.Scheme {
	case "http", "https":
		err = fetchHTTP(ctx, rawURL, out, limitKBps)
	case "ftp":
		err = fetchFTP(ctx, parsed, out, limitKBps)
	default:
		err = fmt.Errorf("unsupported scheme '%s'", parsed.Scheme)
	}

	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return &NetworkError{URL: parsed.Redacted(), Cause: err}
	}

	return os.Rename(partPath, destPath)
}

func fetchHTTP(ctx context.Context, rawURL string, out io.Writer, limitKBps int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := getClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	return copyLimited(ctx, out, resp.Body, resp.ContentLength, limitKBps)
}

func fetchFTP(ctx context.Context, parsed *url.URL, out io.Writer, limitKBps int) error {
	addr := parsed.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return err
	}
	defer conn.Quit()

	user := "anonymous"
	password := "anonymous"
	if parsed.User != nil {
		user = parsed.User.Username()
		if p, ok := parsed.User.Password(); ok {
			password = p
		}
	}
	if err := conn.Login(user, password); err != nil {
		return err
	}

	size := int64(-1)
	if n, err := conn.FileSize(parsed.Path); err == nil {
		size = n
	}

	body, err := conn.Retr(parsed.Path)
	if err != nil {
		return err
	}
	defer body.Close()

	return copyLimited(ctx, out, body, size, limitKBps)
}

// copyLimited copies src to dst with a progress bar, pacing reads through a
// token bucket when a bandwidth cap is set.
func copyLimited(ctx context.Context, dst io.Writer, src io.Reader, size int64, limitKBps int) error {
	bar := progressbar.DefaultBytes(size, "downloading")
	defer bar.Close()

	writer := io.MultiWriter(dst, bar)

	if limitKBps <= 0 {
		_, err := io.Copy(writer, src)
		return err
	}

	bytesPerSecond := limitKBps * 1024
	limiter := rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)

	chunk := 32 * 1024
	if chunk > bytesPerSecond {
		chunk = bytesPerSecond
	}
	buf := make([]byte, chunk)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if err := limiter.WaitN(ctx, n); err != nil {
				return err
			}
			if _, err := writer.Write(buf[:n]); err != nil {
				return err
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
