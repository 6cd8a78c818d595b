// Package hash implements the streaming 128-bit content fingerprint used to
// key the cache. The hash family is xxHash's 128-bit variant (XXH3), chosen
// for throughput rather than collision resistance: the key space is
// domain-restricted (only ever formed from a single wrapper invocation's
// inputs) so a build cache has no cryptographic safety requirement.
package hash

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/zeebo/xxh3"
)

// Size is the length in bytes of a Hash value.
const Size = 16

// Hash is a 128-bit content fingerprint. The zero value is not a valid
// hash of anything in particular, but compares equal to itself.
type Hash [Size]byte

// String renders the hash as 32 lower-case hexadecimal digits.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Equal reports whether h and other represent the same fingerprint.
func (h Hash) Equal(other Hash) bool {
	return h == other
}

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ErrAlreadyFinalized is the value Hasher panics with when Final or a
// Write* method is called on a Hasher that has already been finalized; it
// is never returned as an ordinary error.
var ErrAlreadyFinalized = errors.New("hash: hasher already finalized")

// Hasher is a streaming accumulator for a 128-bit fingerprint. It must be
// finalized exactly once via Final; any use after that panics.
//
// Hasher is not safe for concurrent use.
type Hasher struct {
	h    *xxh3.Hasher
	done bool
}

// New creates a Hasher ready to accept data.
func New() *Hasher {
	return &Hasher{h: xxh3.New()}
}

func (h *Hasher) checkOpen() {
	if h.done {
		panic(ErrAlreadyFinalized)
	}
}

// Write appends raw bytes to the hash. It implements io.Writer and never
// returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	h.checkOpen()
	return h.h.Write(p) //nolint:errcheck // xxh3.Hasher.Write never fails
}

// WriteString appends a UTF-8 text value to the hash.
func (h *Hasher) WriteString(s string) {
	h.checkOpen()
	_, _ = h.h.WriteString(s) //nolint:errcheck // xxh3.Hasher.WriteString never fails
}

// Delimiters separating map keys from values, and successive pairs, in
// WriteMap. The two delimiters are distinct from each other and are
// control bytes unlikely to appear in a key or value, but the important
// property is only that they differ from one another: this is what
// prevents {"a":"b","c":""} and {"a":"bc",""} from hashing identically.
const (
	mapKVDelim   = 0x00
	mapPairDelim = 0x01
)

// WriteMap appends an ordered map of string to string to the hash. Entries
// are visited in ascending key order so that the resulting hash does not
// depend on map iteration order or insertion order.
func (h *Hasher) WriteMap(m map[string]string) {
	h.checkOpen()
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.WriteString(k)
		h.h.Write([]byte{mapKVDelim}) //nolint:errcheck
		h.WriteString(m[k])
		h.h.Write([]byte{mapPairDelim}) //nolint:errcheck
	}
}

// WriteFile streams the file at path into the hash verbatim.
func (h *Hasher) WriteFile(path string) error {
	h.checkOpen()
	f, err := os.Open(path) //nolint:gosec // path is a caller-supplied build input, not attacker-controlled
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only fd, close error is not actionable here
	_, err = io.Copy(h.h, f)
	return err
}

// WriteFileDeterministic streams the file at path into the hash, applying
// the single file-format heuristic this package owns: if the file is a
// Unix ar-family archive, volatile per-member header fields (modification
// time, owner uid/gid, mode) are excluded so the hash is invariant under
// changes to those fields alone. Any other format, or a file that fails to
// parse as ar, is hashed raw exactly like WriteFile.
func (h *Hasher) WriteFileDeterministic(path string) error {
	h.checkOpen()
	f, err := os.Open(path) //nolint:gosec // path is a caller-supplied build input, not attacker-controlled
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	isAr, rerr := looksLikeAr(f)
	if rerr != nil {
		return rerr
	}
	if !isAr {
		if _, serr := f.Seek(0, 0); serr != nil {
			return serr
		}
		_, err = io.Copy(h.h, f)
		return err
	}
	if _, serr := f.Seek(0, 0); serr != nil {
		return serr
	}
	// Parse once into a scratch hasher first, so a malformed archive is
	// hashed raw instead of leaving a half-fed hash behind.
	if perr := hashArDeterministic(xxh3.New(), f); perr != nil {
		if _, serr := f.Seek(0, 0); serr != nil {
			return serr
		}
		_, err = io.Copy(h.h, f)
		return err
	}
	if _, serr := f.Seek(0, 0); serr != nil {
		return serr
	}
	return hashArDeterministic(h.h, f)
}

// Final finalizes the hash calculation. Calling Final more than once, or
// calling any Write* method after Final, is a programming error and
// panics with ErrAlreadyFinalized.
func (h *Hasher) Final() Hash {
	h.checkOpen()
	h.done = true
	sum := h.h.Sum128()
	var out Hash
	// Sum128 already returns a fixed-width value; encode explicitly in a
	// chosen byte order (little-endian) rather than relying on the host's
	// native struct layout, so the digest is stable across architectures.
	binary.LittleEndian.PutUint64(out[0:8], sum.Lo)
	binary.LittleEndian.PutUint64(out[8:16], sum.Hi)
	return out
}
