package compress

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	original := bytes.Repeat([]byte("hello buildcache "), 1000)

	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if len(compressed) >= len(original) {
		t.Fatalf("Compress() did not shrink a repetitive payload: %d >= %d", len(compressed), len(original))
	}

	decompressed, err := c.Decompress(compressed, int64(len(original)))
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Fatal("Decompress(Compress(x)) != x")
	}
}

func TestDecompressTooLarge(t *testing.T) {
	t.Parallel()
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	original := bytes.Repeat([]byte("x"), 10000)
	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}

	if _, err := c.Decompress(compressed, 100); err != ErrTooLarge { //nolint:errorlint // exact sentinel expected
		t.Fatalf("Decompress() error = %v, want ErrTooLarge", err)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	original := bytes.Repeat([]byte("streamed data "), 2000)

	var compressed bytes.Buffer
	if err := c.CompressStream(&compressed, bytes.NewReader(original)); err != nil {
		t.Fatalf("CompressStream() error = %v", err)
	}

	var decompressed bytes.Buffer
	if err := c.DecompressStream(&decompressed, bytes.NewReader(compressed.Bytes()), int64(len(original))); err != nil {
		t.Fatalf("DecompressStream() error = %v", err)
	}
	if !bytes.Equal(decompressed.Bytes(), original) {
		t.Fatal("DecompressStream(CompressStream(x)) != x")
	}
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	compressed, err := c.Compress(nil)
	if err != nil {
		t.Fatalf("Compress(nil) error = %v", err)
	}
	decompressed, err := c.Decompress(compressed, 0)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if len(decompressed) != 0 {
		t.Fatalf("Decompress(Compress(nil)) = %v, want empty", decompressed)
	}
}
