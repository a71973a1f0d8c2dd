package config

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/gfx"
	"github.com/wippyai/wasm-bridge/hostlib"
	"github.com/wippyai/wasm-bridge/object"
)

// Host holds the root object built from the fetch and storage sections and
// the resources behind it.
type Host struct {
	Root    *object.Record
	Fetcher *hostlib.Fetcher
	Store   *hostlib.Store
}

// OpenHost builds the host libraries. Storage is opened only when
// storage.path is set, S3 only when fetch.s3 names a region or endpoint.
func (c *Config) OpenHost(log *zap.Logger, dev gfx.Device) (*Host, error) {
	maxSize, err := c.FetchMaxSize()
	if err != nil {
		return nil, err
	}
	timeout, err := c.FetchTimeout()
	if err != nil {
		return nil, err
	}

	var web, s3src hostlib.Source
	if len(c.Fetch.AllowedHosts) > 0 {
		web = hostlib.NewHTTPSource(hostlib.HTTPConfig{
			AllowedHosts: c.Fetch.AllowedHosts,
			MaxBodySize:  maxSize,
			Timeout:      timeout,
		})
	}
	if s := c.Fetch.S3; s.Enabled() {
		s3src = hostlib.NewS3Source(hostlib.S3Config{
			Region:          s.Region,
			Endpoint:        s.Endpoint,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			ForcePathStyle:  s.ForcePathStyle,
			MaxSize:         maxSize,
		})
	}
	h := &Host{
		Fetcher: hostlib.NewFetcher(hostlib.FileSource{Root: c.Resolve(c.Fetch.Root), MaxSize: maxSize}, web, s3src),
	}

	libs := []hostlib.Lib{
		hostlib.Console(log),
		hostlib.Clock(),
		hostlib.Graphics(dev),
		h.Fetcher.Lib(),
	}
	if p := c.Storage.Path; p != "" {
		if p != ":memory:" {
			p = c.Resolve(p)
		}
		h.Store, err = hostlib.OpenStore(p)
		if err != nil {
			return nil, err
		}
		libs = append(libs, h.Store.Lib())
	}
	h.Root = hostlib.Root(libs...)
	return h, nil
}

// Close releases the storage database.
func (h *Host) Close() error {
	if h.Store == nil {
		return nil
	}
	return h.Store.Close()
}
