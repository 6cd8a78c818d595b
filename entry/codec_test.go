package entry

import "testing"

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		e    Entry
	}{
		{"basic", Entry{FileIDs: []string{"object"}, Compression: CompressionNone, Stdout: []byte("ok"), ReturnCode: 0}},
		{"compressed-multi-file", Entry{
			FileIDs:     []string{"object", "dep", "coverage"},
			Compression: CompressionAll,
			Stdout:      []byte("compiling...\n"),
			Stderr:      []byte("warning: unused variable\n"),
			ReturnCode:  0,
		}},
		{"empty", Entry{}},
		{"empty-stdout-nonempty-stderr", Entry{FileIDs: []string{"object"}, Stderr: []byte("x")}},
		{"no-files", Entry{Stdout: []byte("nothing produced")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			encoded := Encode(tc.e)
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !decoded.Equal(tc.e) {
				t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, tc.e)
			}
		})
	}
}

func TestDecodeBadMagic(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte("not an entry"))
	if err == nil {
		t.Fatal("Decode() error = nil, want ErrBadMagic")
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	t.Parallel()
	data := Encode(Entry{FileIDs: []string{"object"}})
	// Corrupt the version byte (immediately after the 4-byte magic).
	data[4] = 0xFF

	_, err := Decode(data)
	if err != ErrUnsupportedVersion { //nolint:errorlint // exact sentinel expected from this code path
		t.Fatalf("Decode() error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()
	data := Encode(Entry{FileIDs: []string{"object"}, Stdout: []byte("hello")})
	for cut := 0; cut < len(data); cut++ {
		if _, err := Decode(data[:cut]); err == nil {
			t.Fatalf("Decode() of truncated input (len %d) did not error", cut)
		}
	}
}
