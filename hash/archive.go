package hash

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// arMagic is the eight-byte signature at the start of any Unix ar-family
// archive (a.k.a. "!<arch>\n").
const arMagic = "!<arch>\n"

// arHeaderSize is the fixed size of each per-member header record.
const arHeaderSize = 60

func looksLikeAr(f *os.File) (bool, error) {
	var magic [len(arMagic)]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF { //nolint:errorlint // io sentinel comparison is idiomatic here
			return false, nil
		}
		return false, err
	}
	return n == len(arMagic) && string(magic[:]) == arMagic, nil
}

// arMemberHeader is the fixed-width per-member header of an ar archive.
// Fields are ASCII, space-padded; see ar(5).
type arMemberHeader struct {
	name  string
	size  int64
	// mtime, uid, gid and mode are intentionally not retained: they are the
	// volatile fields this format-aware hash excludes.
}

// hashArDeterministic streams f (the caller seeks to 0 before calling) into
// h, writing each member's name and size followed by its body, skipping the
// header's timestamp/owner/mode fields.
func hashArDeterministic(h *xxh3.Hasher, f *os.File) error {
	br := bufio.NewReaderSize(f, 64<<10)

	var magic [len(arMagic)]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return err
	}

	for {
		hdr, err := readArMemberHeader(br)
		if err == io.EOF { //nolint:errorlint // io sentinel comparison is idiomatic here
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := h.WriteString(hdr.name); err != nil {
			return err
		}
		if _, err := h.Write([]byte{mapKVDelim}); err != nil {
			return err
		}
		var sizeBuf [8]byte
		binary.LittleEndian.PutUint64(sizeBuf[:], uint64(hdr.size)) //nolint:gosec // archive member sizes fit uint64
		if _, err := h.Write(sizeBuf[:]); err != nil {
			return err
		}

		if _, err := io.CopyN(h, br, hdr.size); err != nil {
			return err
		}
		// Members are padded to an even byte boundary.
		if hdr.size%2 != 0 {
			if _, err := br.Discard(1); err != nil && err != io.EOF { //nolint:errorlint
				return err
			}
		}
	}
}

// readArMemberHeader reads and parses one fixed-width ar member header.
func readArMemberHeader(r *bufio.Reader) (arMemberHeader, error) {
	var raw [arHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return arMemberHeader{}, err
	}

	name := strings.TrimRight(string(raw[0:16]), " ")
	// GNU ar extended names are terminated with '/'; the trailing slash is
	// not semantically part of the name's identity for hashing purposes,
	// but is kept as-is to avoid colliding distinct names that happen to
	// share a prefix.
	sizeField := strings.TrimSpace(string(raw[48:58]))
	size, err := strconv.ParseInt(sizeField, 10, 64)
	if err != nil {
		return arMemberHeader{}, err
	}
	return arMemberHeader{name: name, size: size}, nil
}
