package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-bridge/errors"
)

func TestParse_Defaults(t *testing.T) {
	c, err := Parse(nil, "/srv/game")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !c.Module.Threads || c.Module.Namespace != "bridge" || c.Frame.FPS != 60 {
		t.Errorf("module defaults = %+v, fps %v", c.Module, c.Frame.FPS)
	}
	if c.Dir != "/srv/game" || c.Resolve("assets") != filepath.Join("/srv/game", "assets") {
		t.Errorf("dir = %q", c.Dir)
	}
	if pages, _ := c.MemoryLimitPages(); pages != 0 {
		t.Errorf("default memory limit = %d pages", pages)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		check   func(t *testing.T, c *Config)
		wantErr error
	}{
		{
			name: "overrides keep other defaults",
			file: `
[module]
path = "game.wasm"
threads = false
memory_limit = "256MiB"

[frame]
fps = 30.0

[exports]
entry_point = "worker_entry"
main = ["start"]
`,
			check: func(t *testing.T, c *Config) {
				if c.Module.Threads || c.Module.Namespace != "bridge" || c.Frame.FPS != 30 {
					t.Errorf("config = %+v", c.Module)
				}
				if pages, _ := c.MemoryLimitPages(); pages != 4096 {
					t.Errorf("pages = %d", pages)
				}
				e := c.exports()
				if e.EntryPoint != "worker_entry" || e.Reserve != "reserve_scratch" || len(e.Main) != 1 || e.Main[0] != "start" {
					t.Errorf("exports = %+v", e)
				}
			},
		},
		{
			name: "fetch and storage",
			file: `
[fetch]
max_size = "2m"
timeout = "5s"
allowed_hosts = ["cdn.example.com"]

[fetch.s3]
endpoint = "http://localhost:9000"
force_path_style = true

[storage]
path = "saves.db"
`,
			check: func(t *testing.T, c *Config) {
				if n, _ := c.FetchMaxSize(); n != 2<<20 {
					t.Errorf("max size = %d", n)
				}
				if d, _ := c.FetchTimeout(); d != 5*time.Second {
					t.Errorf("timeout = %v", d)
				}
				if !c.Fetch.S3.Enabled() || c.Storage.Path != "saves.db" {
					t.Errorf("fetch = %+v", c.Fetch)
				}
			},
		},
		{name: "unknown key", file: "[module]\nthreds = true\n", wantErr: errors.ErrInvalidInput},
		{name: "malformed", file: "[module\n", wantErr: errors.ErrDecode},
		{name: "negative fps", file: "[frame]\nfps = -1.0\n", wantErr: errors.ErrOutOfRange},
		{name: "fps too high", file: "[frame]\nfps = 5000.0\n", wantErr: errors.ErrOutOfRange},
		{name: "memory below one page", file: "[module]\nmemory_limit = \"1KiB\"\n", wantErr: errors.ErrOutOfRange},
		{name: "memory above 4GiB", file: "[module]\nmemory_limit = \"8GiB\"\n", wantErr: errors.ErrOutOfRange},
		{name: "memory not a size", file: "[module]\nmemory_limit = \"lots\"\n", wantErr: errors.ErrInvalidInput},
		{name: "log level", file: "[log]\nlevel = \"loud\"\n", wantErr: errors.ErrInvalidInput},
		{name: "log format", file: "[log]\nformat = \"xml\"\n", wantErr: errors.ErrInvalidInput},
		{name: "empty namespace", file: "[module]\nnamespace = \"\"\n", wantErr: errors.ErrInvalidInput},
		{name: "timeout", file: "[fetch]\ntimeout = \"soon\"\n", wantErr: errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.file), t.TempDir())
			if tt.wantErr != nil {
				if !stderrors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.check(t, c)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wasm-bridge.toml")
	if err := os.WriteFile(path, []byte("[module]\npath = \"game.wasm\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.Resolve(c.Module.Path); got != filepath.Join(dir, "game.wasm") {
		t.Errorf("module path = %q", got)
	}
	if _, err := Load(filepath.Join(dir, "missing.toml")); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing file = %v", err)
	}
}

func TestOpenHost(t *testing.T) {
	c := Default()
	c.Dir = t.TempDir()
	c.Storage.Path = ":memory:"
	h, err := c.OpenHost(zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("OpenHost: %v", err)
	}
	defer h.Close()

	for _, name := range []string{"console", "time", "graphics", "fetch", "storage"} {
		if _, ok := h.Root.Property(name); !ok {
			t.Errorf("root.%s missing", name)
		}
	}
	ctx := context.Background()
	for _, p := range []string{"https://cdn.example.com/a.png", "s3://bucket/key"} {
		if _, err := h.Fetcher.Fetch(ctx, p); !stderrors.Is(err, errors.ErrUnsupported) {
			t.Errorf("fetch %s without a source = %v", p, err)
		}
	}

	c.Storage.Path = ""
	bare, err := c.OpenHost(zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := bare.Root.Property("storage"); ok || bare.Close() != nil {
		t.Error("storage opened without a path")
	}
	if _, ok := bare.Root.Property("fetch"); !ok {
		t.Error("fetch missing")
	}
}

type frameRecorder struct{ rates []float64 }

func (f *frameRecorder) SetFPS(fps float64) { f.rates = append(f.rates, fps) }

func TestApply(t *testing.T) {
	current := Default()
	level := zap.NewAtomicLevelAt(current.Level())
	loop := &frameRecorder{}
	apply := Apply(current, level, loop)

	next := Default()
	next.Log.Level = "debug"
	next.Frame.FPS = 30
	apply(next)
	apply(next)

	if level.Level() != zapcore.DebugLevel {
		t.Errorf("level = %v", level.Level())
	}
	if len(loop.rates) != 1 || loop.rates[0] != 30 {
		t.Errorf("frame rates = %v", loop.rates)
	}

	Apply(current, level, nil)(next)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wasm-bridge.toml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("[frame]\nfps = 60.0\n")

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}()

	deadline := time.After(10 * time.Second)
	retry := time.NewTicker(100 * time.Millisecond)
	defer retry.Stop()
	write("[frame]\nfps = 30.0\n")
wait:
	for {
		select {
		case c := <-reloaded:
			if c.Frame.FPS == 30 {
				break wait
			}
		case <-retry.C:
			write("[frame]\nfps = 30.0\n")
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "none.toml"), func(*Config) {})
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("Watch = %v", err)
	}
}
