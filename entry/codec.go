package entry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// magic tags the start of every serialized entry so a lookup against a
// directory containing garbage (or a future, incompatible format) fails
// fast rather than silently misparsing.
var magic = [4]byte{'B', 'C', 'E', '1'}

// formatVersion is bumped whenever the wire layout changes in a
// non-backward-compatible way. Decode rejects any version it doesn't
// recognize by returning ErrUnsupportedVersion rather than panicking or
// guessing at a layout: callers treat that as a cache miss, never a crash.
const formatVersion = 1

// ErrUnsupportedVersion is returned by Decode when the descriptor's format
// version is not one this build understands.
var ErrUnsupportedVersion = errors.New("entry: unsupported descriptor version")

// ErrBadMagic is returned by Decode when the leading magic bytes don't
// match, i.e. the data is not an entry descriptor at all.
var ErrBadMagic = errors.New("entry: bad magic")

// maxStreamLen bounds the length-prefixed fields below against a corrupted
// or adversarially crafted descriptor claiming an enormous length.
const maxStreamLen = 64 << 20 // 64MiB of captured stdout/stderr is already generous

// Encode serializes e in the fixed field order: magic, version, file_ids
// (count + length-prefixed UTF-8 strings), compression_mode, stdout
// (length + bytes), stderr (length + bytes), return_code (signed 32-bit
// big-endian).
func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(formatVersion)

	writeUvarint(&buf, uint64(len(e.FileIDs)))
	for _, id := range e.FileIDs {
		writeUvarint(&buf, uint64(len(id)))
		buf.WriteString(id)
	}

	buf.WriteByte(byte(e.Compression))

	writeUvarint(&buf, uint64(len(e.Stdout)))
	buf.Write(e.Stdout)
	writeUvarint(&buf, uint64(len(e.Stderr)))
	buf.Write(e.Stderr)

	var rc [4]byte
	binary.BigEndian.PutUint32(rc[:], uint32(e.ReturnCode)) //nolint:gosec // explicit signed->unsigned bit-preserving cast
	buf.Write(rc[:])

	return buf.Bytes()
}

// Decode parses a descriptor previously produced by Encode. It returns
// ErrBadMagic or ErrUnsupportedVersion for data that isn't a recognized
// entry descriptor; callers (localcache.Store.Lookup in particular) treat
// both as "miss", not as a fatal error.
func Decode(data []byte) (Entry, error) {
	r := bytes.NewReader(data)

	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return Entry{}, fmt.Errorf("entry: read magic: %w", err)
	}
	if m != magic {
		return Entry{}, ErrBadMagic
	}

	version, err := r.ReadByte()
	if err != nil {
		return Entry{}, fmt.Errorf("entry: read version: %w", err)
	}
	if version != formatVersion {
		return Entry{}, ErrUnsupportedVersion
	}

	count, err := readUvarint(r)
	if err != nil {
		return Entry{}, fmt.Errorf("entry: read file id count: %w", err)
	}
	ids := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		s, err := readString(r)
		if err != nil {
			return Entry{}, fmt.Errorf("entry: read file id %d: %w", i, err)
		}
		ids = append(ids, s)
	}

	compByte, err := r.ReadByte()
	if err != nil {
		return Entry{}, fmt.Errorf("entry: read compression mode: %w", err)
	}

	stdout, err := readBytes(r)
	if err != nil {
		return Entry{}, fmt.Errorf("entry: read stdout: %w", err)
	}
	stderr, err := readBytes(r)
	if err != nil {
		return Entry{}, fmt.Errorf("entry: read stderr: %w", err)
	}

	var rc [4]byte
	if _, err := io.ReadFull(r, rc[:]); err != nil {
		return Entry{}, fmt.Errorf("entry: read return code: %w", err)
	}

	return Entry{
		FileIDs:     ids,
		Compression: Compression(compByte),
		Stdout:      stdout,
		Stderr:      stderr,
		ReturnCode:  int32(binary.BigEndian.Uint32(rc[:])), //nolint:gosec // inverse of the bit-preserving cast in Encode
	}, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxStreamLen {
		return nil, fmt.Errorf("entry: length %d exceeds maximum %d", n, maxStreamLen)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
