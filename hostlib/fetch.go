package hostlib

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/object"
)

const (
	DefaultMaxAssetSize   = 64 << 20
	DefaultRequestTimeout = 30 * time.Second

	maxRedirects = 10
)

// Source reads assets by path.
type Source interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, path string) ([]byte, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}

// FileSource serves paths relative to Root. Paths cannot escape Root.
type FileSource struct {
	Root    string
	MaxSize int64
}

func (s FileSource) resolve(p string) (string, error) {
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "asset root")
	}
	full := filepath.Join(root, filepath.Clean("/"+strings.TrimPrefix(p, "/")))
	if !within(root, full) {
		return "", errors.InvalidInput(errors.PhaseHost, "path escapes the asset root: "+p)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if stderrors.Is(err, fs.ErrNotExist) {
		return "", errors.NotFound(errors.PhaseHost, "asset", p)
	}
	if err != nil {
		return "", errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "asset root")
	}
	target, err := filepath.EvalSymlinks(full)
	if stderrors.Is(err, fs.ErrNotExist) {
		return "", errors.NotFound(errors.PhaseHost, "asset", p)
	}
	if err != nil {
		return "", errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "resolve "+p)
	}
	if !within(realRoot, target) {
		return "", errors.InvalidInput(errors.PhaseHost, "link escapes the asset root: "+p)
	}
	return target, nil
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// Fetch reads the file at p.
func (s FileSource) Fetch(_ context.Context, p string) ([]byte, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFound(errors.PhaseHost, "asset", p)
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "open "+p)
	}
	defer f.Close()
	return readLimited(f, s.MaxSize, p)
}

// HTTPConfig limits the hosts and sizes an HTTPSource accepts.
type HTTPConfig struct {
	AllowedHosts []string
	MaxBodySize  int64
	Timeout      time.Duration
}

// HTTPSource fetches http and https URLs from allowed hosts.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPSource creates an HTTP source. An empty allow list rejects every
// host.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxAssetSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	s := &HTTPSource{cfg: cfg}
	s.client = &http.Client{Timeout: cfg.Timeout, CheckRedirect: s.checkRedirect}
	return s
}

// checkRedirect applies the allow list to every hop.
func (s *HTTPSource) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.InvalidInput(errors.PhaseHost, "too many redirects")
	}
	if !s.allowed(req.URL.Hostname()) {
		return errors.InvalidInput(errors.PhaseHost, "redirect to host not allowed: "+req.URL.Hostname())
	}
	return nil
}

// Fetch issues a GET for rawURL.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.InvalidInput(errors.PhaseHost, "invalid url: "+rawURL)
	}
	if !s.allowed(u.Hostname()) {
		return nil, errors.InvalidInput(errors.PhaseHost, "host not allowed: "+u.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "build request")
	}
	resp, err := s.client.Do(req)
	var rejected *errors.Error
	if stderrors.As(err, &rejected) {
		return nil, rejected
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "GET "+rawURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFound(errors.PhaseHost, "asset", rawURL)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errors.New(errors.PhaseHost, errors.KindHostFailure).
			Detail("GET %s: %s", rawURL, resp.Status).
			Value(resp.StatusCode).
			Build()
	}
	return readLimited(resp.Body, s.cfg.MaxBodySize, rawURL)
}

func (s *HTTPSource) allowed(host string) bool {
	for _, a := range s.cfg.AllowedHosts {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// S3Config selects the S3 or S3-compatible service an S3Source reads from.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	MaxSize         int64
}

// S3Source fetches s3://bucket/key URLs. The client is created on first
// use.
type S3Source struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
}

// NewS3Source creates an S3 source.
func NewS3Source(cfg S3Config) *S3Source {
	return &S3Source{cfg: cfg}
}

func (s *S3Source) open(ctx context.Context) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" && s.cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "load AWS config")
	}

	var s3Opts []func(*s3.Options)
	if s.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		})
	}
	if s.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	s.client = s3.NewFromConfig(cfg, s3Opts...)
	return s.client, nil
}

// Fetch reads the object named by rawURL.
func (s *S3Source) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return nil, errors.InvalidInput(errors.PhaseHost, "invalid s3 url: "+rawURL)
	}
	key := strings.TrimPrefix(u.Path, "/")
	client, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(key),
	})
	var noKey *types.NoSuchKey
	if stderrors.As(err, &noKey) {
		return nil, errors.NotFound(errors.PhaseHost, "asset", rawURL)
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "get "+rawURL)
	}
	defer out.Body.Close()
	return readLimited(out.Body, s.cfg.MaxSize, rawURL)
}

func readLimited(r io.Reader, limit int64, name string) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxAssetSize
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindHostFailure, err, "read "+name)
	}
	if int64(len(data)) > limit {
		return nil, errors.New(errors.PhaseHost, errors.KindOutOfRange).
			Detail("%s exceeds %d bytes", name, limit).
			Build()
	}
	return data, nil
}

// Fetcher routes paths to a source by URL scheme: http and https to the
// HTTP source, s3 to the S3 source, anything else to the file source.
type Fetcher struct {
	Files Source
	HTTP  Source
	S3    Source
	log   *zap.Logger
}

// NewFetcher creates a fetcher. Nil sources reject their scheme.
func NewFetcher(files, web, s3src Source) *Fetcher {
	return &Fetcher{Files: files, HTTP: web, S3: s3src, log: Logger().Named("fetch")}
}

func (f *Fetcher) source(p string) (Source, string) {
	scheme, _, found := strings.Cut(p, "://")
	if !found {
		return f.Files, "file"
	}
	switch scheme {
	case "http", "https":
		return f.HTTP, scheme
	case "s3":
		return f.S3, scheme
	}
	return nil, scheme
}

// Fetch reads p from the source its scheme selects.
func (f *Fetcher) Fetch(ctx context.Context, p string) ([]byte, error) {
	src, scheme := f.source(p)
	if src == nil {
		return nil, errors.Unsupported(errors.PhaseHost, fmt.Sprintf("fetching %s assets", scheme))
	}
	start := time.Now()
	data, err := src.Fetch(ctx, p)
	if err != nil {
		f.log.Debug("fetch failed", zap.String("path", p), zap.Error(err))
		return nil, err
	}
	f.log.Debug("fetched", zap.String("path", p), zap.Int("bytes", len(data)), zap.Duration("took", time.Since(start)))
	return data, nil
}

// Lib exposes fetch(path), which returns a pending operation settling with
// the asset's bytes.
func (f *Fetcher) Lib() Lib {
	fn := object.Func(func(_ context.Context, call object.Call) (object.Object, error) {
		p, err := arg[object.Text](call, 0)
		if err != nil {
			return nil, err
		}
		path := string(p)
		return object.NewPending("fetch "+path, func(ctx context.Context) (object.Object, error) {
			data, err := f.Fetch(ctx, path)
			if err != nil {
				return nil, err
			}
			return object.Bytes(data), nil
		}), nil
	})
	return Lib{Name: "fetch", Object: fn}
}
