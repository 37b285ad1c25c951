// Package nativemsg implements the browser extension side of the pipeline:
// the length-prefixed stdio protocol spoken with the extension, the request
// dispatcher correlating commands to replies, and the HostIpc gRPC service
// the main process uses for the legacy pull path.
package nativemsg

import (
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"
)

// maxMessageSize guards against a corrupt length prefix. Chrome caps
// extension-bound messages at 1MB; inbound ones are larger but bounded.
const maxMessageSize = 64 << 20

// nativeEndian is the host byte order; the native-messaging length prefix is
// explicitly native-endian, not network order.
var nativeEndian = func() binary.ByteOrder {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

// ReadMessage reads one `<u32 length><length bytes JSON>` frame.
func ReadMessage(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := nativeEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, nil
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("nativemsg: frame length %d exceeds limit", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("nativemsg: short frame: %w", err)
	}
	return buf, nil
}

// WriteMessage writes one length-prefixed frame.
func WriteMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("nativemsg: frame length %d exceeds limit", len(data))
	}
	var prefix [4]byte
	nativeEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
