package hostlib

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/object"
)

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "meshes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meshes", "cube.bin"), []byte("cube"), 0o644); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(dir, "leak")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(dir, "meshes"), filepath.Join(dir, "models")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name    string
		src     FileSource
		path    string
		want    string
		wantErr error
	}{
		{"relative", FileSource{Root: dir}, "meshes/cube.bin", "cube", nil},
		{"leading slash", FileSource{Root: dir}, "/meshes/cube.bin", "cube", nil},
		{"dot dot stays inside", FileSource{Root: dir}, "../meshes/cube.bin", "cube", nil},
		{"missing", FileSource{Root: dir}, "meshes/sphere.bin", "", errors.ErrNotFound},
		{"too large", FileSource{Root: dir, MaxSize: 2}, "meshes/cube.bin", "", errors.ErrOutOfRange},
		{"link inside root", FileSource{Root: dir}, "models/cube.bin", "cube", nil},
		{"link out of root", FileSource{Root: dir}, "leak", "", errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.src.Fetch(ctx, tt.path)
			if tt.wantErr != nil {
				if !stderrors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || string(got) != tt.want {
				t.Errorf("got %q, %v", got, err)
			}
		})
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("payload"))
		case "/moved":
			http.Redirect(w, r, "/ok", http.StatusFound)
		case "/elsewhere":
			_, port, _ := net.SplitHostPort(r.Host)
			http.Redirect(w, r, "http://localhost:"+port+"/ok", http.StatusFound)
		case "/broken":
			http.Error(w, "nope", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	src := NewHTTPSource(HTTPConfig{AllowedHosts: []string{u.Hostname()}})
	ctx := context.Background()

	if got, err := src.Fetch(ctx, srv.URL+"/moved"); err != nil || string(got) != "payload" {
		t.Errorf("same-host redirect = %q, %v", got, err)
	}
	if got, err := src.Fetch(ctx, srv.URL+"/elsewhere"); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("redirect off the allow list = %q, %v", got, err)
	}

	if got, err := src.Fetch(ctx, srv.URL+"/ok"); err != nil || string(got) != "payload" {
		t.Errorf("ok = %q, %v", got, err)
	}
	if _, err := src.Fetch(ctx, srv.URL+"/gone"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("404 = %v", err)
	}
	if _, err := src.Fetch(ctx, srv.URL+"/broken"); errors.CodeOf(err) != errors.CodeHostFailure {
		t.Errorf("500 = %v", err)
	}
	closed := NewHTTPSource(HTTPConfig{})
	if _, err := closed.Fetch(ctx, srv.URL+"/ok"); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("host outside allow list = %v", err)
	}
}

func TestS3Source(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.Header.Get("Authorization") == "" {
			http.Error(w, "unsigned", http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/assets/textures/wall.png":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("png"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
		}
	}))
	defer srv.Close()

	src := NewS3Source(S3Config{
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	})
	ctx := context.Background()

	if got, err := src.Fetch(ctx, "s3://assets/textures/wall.png"); err != nil || string(got) != "png" {
		t.Errorf("get = %q, %v", got, err)
	}
	if _, err := src.Fetch(ctx, "s3://assets/missing.png"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing = %v", err)
	}
	if _, err := src.Fetch(ctx, "s3:///nobucket"); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("bad url = %v", err)
	}
}

func TestFetcher_Lib(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "level.json"), []byte(`{"n":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	web := SourceFunc(func(_ context.Context, p string) ([]byte, error) {
		return []byte(strings.ToUpper(p)), nil
	})
	f := NewFetcher(FileSource{Root: dir}, web, nil)
	fetch := f.Lib().Object.(object.Func)
	ctx := context.Background()

	tests := []struct {
		path    string
		want    string
		wantErr error
	}{
		{"level.json", `{"n":1}`, nil},
		{"https://example.com/a", "HTTPS://EXAMPLE.COM/A", nil},
		{"s3://bucket/key", "", errors.ErrUnsupported},
		{"ftp://host/file", "", errors.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p, err := fetch(ctx, object.Call{Args: []object.Object{object.Text(tt.path)}})
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			v, err := await(t, p)
			if tt.wantErr != nil {
				if !stderrors.Is(err, tt.wantErr) {
					t.Errorf("err = %v", err)
				}
				return
			}
			if b, ok := v.(object.Bytes); !ok || string(b) != tt.want {
				t.Errorf("got %v, %v", v, err)
			}
		})
	}

	if _, err := fetch(ctx, object.Call{}); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("missing argument = %v", err)
	}
}
