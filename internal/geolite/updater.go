package geolite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/proxy"

	"geoipd/internal/support"
)

const (
	userAgent       = "geoipd-geolite-loader/1.0"
	tempFilePattern = "geolite-*.zip"
	dialTimeout     = 30 * time.Second
)

// Artifact is a fetched archive on local disk. Remove deletes it when it is a
// temporary download and is a no-op for user supplied files.
type Artifact struct {
	Path      string
	Size      int64
	temporary bool
}

func (a *Artifact) Remove() error {
	if a == nil || !a.temporary {
		return nil
	}
	return support.RemoveFile(a.Path)
}

type Fetcher interface {
	Fetch(ctx context.Context, observer Observer) (*Artifact, error)
}

// NewFetcher picks an HTTP fetcher for http(s) sources and a file fetcher for
// everything else. proxyURL may be empty, socks5://, or http(s)://.
func NewFetcher(source, proxyURL string, timeout time.Duration) (Fetcher, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: no source configured", ErrFetch)
	}

	lower := strings.ToLower(source)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return &FileFetcher{Path: strings.TrimPrefix(source, "file://")}, nil
	}

	transport, err := createTransport(proxyURL)
	if err != nil {
		return nil, err
	}

	return &HTTPFetcher{
		URL:    source,
		Client: &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// FileFetcher serves an archive that already exists locally.
type FileFetcher struct {
	Path string
}

func (f *FileFetcher) Fetch(ctx context.Context, observer Observer) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFetch, f.Path)
	}
	observerOrNop(observer).Downloaded(info.Size(), info.Size())
	return &Artifact{Path: f.Path, Size: info.Size()}, nil
}

// HTTPFetcher downloads the archive into a temporary file.
type HTTPFetcher struct {
	URL     string
	Client  *http.Client
	TempDir string
}

func (f *HTTPFetcher) Fetch(ctx context.Context, observer Observer) (*Artifact, error) {
	observer = observerOrNop(observer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, redactURL(f.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%w: %s: unexpected status %d: %s", ErrFetch, redactURL(f.URL), resp.StatusCode, strings.TrimSpace(string(body)))
	}

	tmpFile, err := os.CreateTemp(f.TempDir, tempFilePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %w", ErrFetch, err)
	}
	artifact := &Artifact{Path: tmpFile.Name(), temporary: true}

	written, err := io.Copy(tmpFile, &progressReader{reader: resp.Body, total: resp.ContentLength, observer: observer})
	if err == nil {
		err = tmpFile.Sync()
	}
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if removeErr := artifact.Remove(); removeErr != nil {
			log.Warn("Failed to remove partial download", "path", artifact.Path, "error", removeErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: write %s: %w", ErrFetch, artifact.Path, err)
	}

	artifact.Size = written
	log.Debug("Downloaded archive", "path", artifact.Path, "bytes", written)
	return artifact, nil
}

func createTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// archives are zip files already
		DisableCompression: true,
	}

	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return transport, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: invalid proxy %q", ErrFetch, proxyURL)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		socksDialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, &net.Dialer{Timeout: dialTimeout})
		if err != nil {
			return nil, fmt.Errorf("%w: socks5 proxy: %w", ErrFetch, err)
		}
		if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return socksDialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported proxy scheme %q", ErrFetch, parsed.Scheme)
	}

	return transport, nil
}

// redactURL hides query values such as license keys.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = "redacted"
	}
	parsed.User = nil
	return parsed.String()
}

type progressReader struct {
	reader   io.Reader
	read     int64
	total    int64
	observer Observer
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	p.read += int64(n)
	p.observer.Downloaded(p.read, p.total)
	return n, err
}
