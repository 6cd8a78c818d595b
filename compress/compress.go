// Package compress provides the byte-stream compress/decompress primitive
// used for stored cache artifacts, built on klauspost/compress/zstd.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ErrTooLarge is returned by Decompress when the decompressed size would
// exceed the caller-supplied bound. It guards against a corrupted or
// adversarial entry claiming a vastly inflated original size.
var ErrTooLarge = errors.New("compress: decompressed size exceeds limit")

// Codec holds reusable zstd encoder/decoder state. Constructing a Codec is
// relatively expensive; callers should keep one per goroutine (or guard a
// shared one with a mutex) rather than constructing one per file.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a Codec. The returned Codec owns background goroutines and
// must be closed with Close when no longer needed.
func New() (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: new encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close() //nolint:errcheck // best-effort cleanup on the error path
		return nil, fmt.Errorf("compress: new decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Close releases the Codec's background resources.
func (c *Codec) Close() {
	c.enc.Close()  //nolint:errcheck // Encoder.Close error is advisory; callers aren't mid-write here
	c.dec.Close()
}

// Compress returns the zstd-compressed form of data.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}

// Decompress returns the decompressed form of data. maxSize bounds the
// output size; if the decompressed content would exceed it, Decompress
// returns ErrTooLarge without allocating beyond that bound.
func (c *Codec) Decompress(data []byte, maxSize int64) ([]byte, error) {
	if err := c.dec.Reset(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("compress: reset decoder: %w", err)
	}
	out, err := io.ReadAll(io.LimitReader(c.dec, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("compress: decode: %w", err)
	}
	if int64(len(out)) > maxSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

// CompressStream copies src into dst through the encoder. Used for large
// files where buffering the whole payload in memory is undesirable.
func (c *Codec) CompressStream(dst io.Writer, src io.Reader) error {
	c.enc.Reset(dst)
	if _, err := io.Copy(c.enc, src); err != nil {
		return fmt.Errorf("compress: stream encode: %w", err)
	}
	return c.enc.Close()
}

// DecompressStream copies the zstd stream read from src into dst, stopping
// with ErrTooLarge if more than maxSize decompressed bytes would be
// written.
func (c *Codec) DecompressStream(dst io.Writer, src io.Reader, maxSize int64) error {
	if err := c.dec.Reset(src); err != nil {
		return fmt.Errorf("compress: reset decoder: %w", err)
	}
	n, err := io.Copy(dst, io.LimitReader(c.dec, maxSize))
	if err != nil {
		return fmt.Errorf("compress: stream decode: %w", err)
	}
	if n == maxSize {
		// Probe for more data beyond the limit.
		var probe [1]byte
		if pn, _ := c.dec.Read(probe[:]); pn > 0 {
			return ErrTooLarge
		}
	}
	return nil
}

