// Package protocol implements the ShareIT wire format: the primitive codec
// compatible with Java's DataInputStream/DataOutputStream, the command
// schema and the reply records shared by the server and the client.
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
	"unicode/utf8"
)

// MaxStringBytes is the largest encoded string the uint16 length prefix can carry.
const MaxStringBytes = 0xFFFF

var (
	// ErrStringTooLong is returned when a string encodes to more than
	// MaxStringBytes bytes.
	ErrStringTooLong = errors.New("encoded string too long")
	// ErrMalformedString is returned when a received string is not valid
	// modified UTF-8.
	ErrMalformedString = errors.New("malformed modified UTF-8 string")
)

// Reader decodes protocol primitives. It is buffered; raw body bytes must
// be read through the Reader itself (it implements io.Reader) so that no
// buffered bytes are lost between a command and its body.
type Reader struct {
	r   *bufio.Reader
	buf [8]byte
}

// NewReader wraps r. An existing *bufio.Reader is used as is.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br}
}

// Read reads raw bytes, for file bodies.
func (r *Reader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

// ReadUTF reads a uint16 length followed by that many bytes of modified UTF-8.
func (r *Reader) ReadUTF() (string, error) {
	if _, err := io.ReadFull(r.r, r.buf[:2]); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(r.buf[:2]))
	if n == 0 {
		return "", nil
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return "", unexpected(err)
	}
	return decodeModifiedUTF8(data)
}

// ReadInt32 reads a big-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	if _, err := io.ReadFull(r.r, r.buf[:4]); err != nil {
		return 0, unexpected(err)
	}
	return int32(binary.BigEndian.Uint32(r.buf[:4])), nil
}

// ReadInt64 reads a big-endian int64.
func (r *Reader) ReadInt64() (int64, error) {
	if _, err := io.ReadFull(r.r, r.buf[:8]); err != nil {
		return 0, unexpected(err)
	}
	return int64(binary.BigEndian.Uint64(r.buf[:8])), nil
}

// ReadBool reads one byte; any non-zero value is true.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, unexpected(err)
	}
	return b != 0, nil
}

// unexpected turns a clean EOF in the middle of a value into
// io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer encodes protocol primitives into a buffer. Nothing reaches the
// underlying writer until Flush.
type Writer struct {
	w   *bufio.Writer
	buf [8]byte
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes raw bytes, for file bodies.
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// WriteUTF writes s as a uint16 length followed by modified UTF-8.
func (w *Writer) WriteUTF(s string) error {
	data, err := encodeModifiedUTF8(s)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(w.buf[:2], uint16(len(data)))
	if _, err := w.w.Write(w.buf[:2]); err != nil {
		return err
	}
	_, err = w.w.Write(data)
	return err
}

// WriteInt32 writes a big-endian int32.
func (w *Writer) WriteInt32(v int32) error {
	binary.BigEndian.PutUint32(w.buf[:4], uint32(v))
	_, err := w.w.Write(w.buf[:4])
	return err
}

// WriteInt64 writes a big-endian int64.
func (w *Writer) WriteInt64(v int64) error {
	binary.BigEndian.PutUint64(w.buf[:8], uint64(v))
	_, err := w.w.Write(w.buf[:8])
	return err
}

// WriteBool writes 1 for true and 0 for false.
func (w *Writer) WriteBool(v bool) error {
	var b byte
	if v {
		b = 1
	}
	return w.w.WriteByte(b)
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// encodeModifiedUTF8 encodes s the way DataOutputStream.writeUTF does:
// UTF-16 code units, NUL as two bytes, supplementary characters as a
// surrogate pair of three-byte sequences.
func encodeModifiedUTF8(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			out = appendUnit(out, uint16(hi))
			out = appendUnit(out, uint16(lo))
		} else {
			out = appendUnit(out, uint16(r))
		}
		if len(out) > MaxStringBytes {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrStringTooLong, MaxStringBytes)
		}
	}
	return out, nil
}

func appendUnit(out []byte, c uint16) []byte {
	switch {
	case c != 0 && c < 0x80:
		return append(out, byte(c))
	case c < 0x800:
		return append(out, byte(0xC0|c>>6), byte(0x80|c&0x3F))
	default:
		return append(out, byte(0xE0|c>>12), byte(0x80|(c>>6)&0x3F), byte(0x80|c&0x3F))
	}
}

// decodeModifiedUTF8 is the inverse of encodeModifiedUTF8. Unpaired
// surrogates decode to utf8.RuneError.
func decodeModifiedUTF8(data []byte) (string, error) {
	units := make([]uint16, 0, len(data))
	for i := 0; i < len(data); {
		b := data[i]
		switch {
		case b < 0x80:
			units = append(units, uint16(b))
			i++
		case b&0xE0 == 0xC0:
			if i+1 >= len(data) || data[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad 2-byte sequence at %d", ErrMalformedString, i)
			}
			units = append(units, uint16(b&0x1F)<<6|uint16(data[i+1]&0x3F))
			i += 2
		case b&0xF0 == 0xE0:
			if i+2 >= len(data) || data[i+1]&0xC0 != 0x80 || data[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad 3-byte sequence at %d", ErrMalformedString, i)
			}
			units = append(units, uint16(b&0x0F)<<12|uint16(data[i+1]&0x3F)<<6|uint16(data[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("%w: invalid byte 0x%02x at %d", ErrMalformedString, b, i)
		}
	}

	runes := utf16.Decode(units)
	buf := make([]byte, 0, len(data))
	for _, r := range runes {
		buf = utf8.AppendRune(buf, r)
	}
	return string(buf), nil
}
