package nativemsg

import (
	"bytes"
	"io"
	"testing"
)

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"command":"get_assets"}`)
	if err := WriteMessage(&buf, body); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	// The prefix must be native-endian and count only the body.
	prefix := buf.Bytes()[:4]
	if got := nativeEndian.Uint32(prefix); got != uint32(len(body)) {
		t.Fatalf("length prefix = %d, want %d", got, len(body))
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("round trip = %q, want %q", got, body)
	}
}

func TestReadMessageRejectsHugeLength(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	nativeEndian.PutUint32(prefix[:], maxMessageSize+1)
	buf.Write(prefix[:])

	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error for oversized length prefix")
	}
}

func TestReadMessageShortFrame(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	nativeEndian.PutUint32(prefix[:], 10)
	buf.Write(prefix[:])
	buf.WriteString("short")

	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestReadMessageEOF(t *testing.T) {
	if _, err := ReadMessage(bytes.NewReader(nil)); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}
