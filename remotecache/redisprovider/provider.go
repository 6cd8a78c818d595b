// Package redisprovider implements remotecache.Provider over a RESP-speaking
// backend using github.com/redis/go-redis/v9: GET/SET commands with
// STRING/STATUS/NIL/ERROR reply tags, the RESP subset Redis (and
// Redis-compatible stores such as KeyDB or Dragonfly) speak natively.
package redisprovider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buildcache-go/buildcache/compress"
	"github.com/buildcache-go/buildcache/entry"
	"github.com/buildcache-go/buildcache/hash"
	"github.com/buildcache-go/buildcache/remotecache"
)

const defaultCallTimeout = 2 * time.Second

// Provider is a remotecache.Provider backed by a Redis (or RESP-compatible)
// server.
type Provider struct {
	client       *redis.Client
	ns           remotecache.Namespace
	callTimeout  time.Duration
	codecs       *compress.Pool
	disconnected atomic.Bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithCallTimeout overrides the per-call timeout applied to every Redis
// round trip. Defaults to 2 seconds.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Provider) { p.callTimeout = d }
}

// New builds a Provider from a Redis connection URL of the form
// redis://[user:pass@]host:port/db, scoping all keys under ns.
func New(addr string, ns remotecache.Namespace, opts ...Option) (*Provider, error) {
	redisOpts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("redisprovider: parse address: %w", err)
	}
	p := &Provider{
		client:      redis.NewClient(redisOpts),
		ns:          ns,
		callTimeout: defaultCallTimeout,
		codecs:      compress.NewPool(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Connect verifies the backend is reachable.
func (p *Provider) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := p.client.Ping(ctx).Err(); err != nil {
		p.disconnected.Store(true)
		return fmt.Errorf("redisprovider: connect: %w", err)
	}
	return nil
}

// Disconnected reports whether Connect or a prior operation failed with
// anything other than a miss. The flag is only reported: neither this
// Provider nor cachefacade.Facade consults it, so Lookup, Add and GetFile
// still contact the backend on every call, each bounded by the per-call
// timeout.
func (p *Provider) Disconnected() bool {
	return p.disconnected.Load()
}

func (p *Provider) markFailed(err error) error {
	if err != nil && !errors.Is(err, redis.Nil) {
		p.disconnected.Store(true)
	}
	return err
}

// Lookup fetches and decodes the entry descriptor for h.
func (p *Provider) Lookup(ctx context.Context, h hash.Hash) (*entry.Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	data, err := p.client.Get(ctx, p.ns.EntryKey(h)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, p.markFailed(fmt.Errorf("redisprovider: get entry: %w", err))
	}

	e, err := entry.Decode(data)
	if err != nil {
		// A corrupt or unversioned remote descriptor is a miss, never a
		// hard failure, matching the local store's decode contract.
		return nil, false, nil //nolint:nilerr
	}
	return &e, true, nil
}

// Add uploads the entry descriptor for h and every file named in
// localPaths.
func (p *Provider) Add(ctx context.Context, h hash.Hash, e entry.Entry, localPaths map[string]string) error {
	for _, fileID := range e.FileIDs {
		path, ok := localPaths[fileID]
		if !ok {
			return fmt.Errorf("redisprovider: add: missing local path for file id %q", fileID)
		}
		if err := p.putFile(ctx, h, fileID, path, e.Compression == entry.CompressionAll); err != nil {
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := p.client.Set(callCtx, p.ns.EntryKey(h), entry.Encode(e), 0).Err(); err != nil {
		return p.markFailed(fmt.Errorf("redisprovider: set entry: %w", err))
	}
	return nil
}

func (p *Provider) putFile(ctx context.Context, h hash.Hash, fileID, localPath string, compressed bool) error {
	data, err := os.ReadFile(localPath) //nolint:gosec // path is a compiler-produced artifact, not user input
	if err != nil {
		return fmt.Errorf("redisprovider: read %s for upload: %w", localPath, err)
	}
	if compressed {
		codec, release, err := p.codecs.Get()
		if err != nil {
			return fmt.Errorf("redisprovider: acquire codec: %w", err)
		}
		defer release()
		data, err = codec.Compress(data)
		if err != nil {
			return fmt.Errorf("redisprovider: compress %s: %w", fileID, err)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := p.client.Set(callCtx, p.ns.FileKey(h, fileID), data, 0).Err(); err != nil {
		return p.markFailed(fmt.Errorf("redisprovider: set file %s: %w", fileID, err))
	}
	return nil
}

// GetFile downloads the stored file fileID for h into targetPath.
func (p *Provider) GetFile(ctx context.Context, h hash.Hash, fileID, targetPath string, compressed bool) error {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	data, err := p.client.Get(callCtx, p.ns.FileKey(h, fileID)).Bytes()
	if err != nil {
		return p.markFailed(fmt.Errorf("redisprovider: get file %s: %w", fileID, err))
	}

	if compressed {
		codec, release, err := p.codecs.Get()
		if err != nil {
			return fmt.Errorf("redisprovider: acquire codec: %w", err)
		}
		defer release()
		data, err = codec.Decompress(data, maxDownloadSize)
		if err != nil {
			return fmt.Errorf("redisprovider: decompress file %s: %w", fileID, err)
		}
	}
	if err := writeFileAtomic(targetPath, data); err != nil {
		return fmt.Errorf("redisprovider: write %s: %w", targetPath, err)
	}
	return nil
}

// writeFileAtomic stages data in a temp file next to targetPath and renames
// it into place, so a concurrent reader never observes a partially written
// file.
func writeFileAtomic(targetPath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(targetPath), ".buildcache-download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op once renamed into place

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// maxDownloadSize bounds decompression of a remote blob against a
// corrupted or malicious entry claiming an implausible original size.
const maxDownloadSize = 4 << 30 // 4GiB

// Close releases the underlying Redis client's connection pool.
func (p *Provider) Close() error {
	p.codecs.Close()
	return p.client.Close()
}
