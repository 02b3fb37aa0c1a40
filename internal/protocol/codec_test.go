package protocol_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"shareit/internal/protocol"
)

func encodeUTF(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	if err := w.WriteUTF(s); err != nil {
		t.Fatalf("WriteUTF(%q) error = %v", s, err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	return buf.Bytes()
}

func TestWriteUTF_ModifiedUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string // hex
	}{
		{"empty", "", "0000"},
		{"ascii", "abc", "0003616263"},
		{"nul", "a\x00b", "000461c08062"},
		{"two byte", "é", "0002c3a9"},
		{"three byte", "€", "0003e282ac"},
		{"supplementary", "😀", "0006eda0bdedb880"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hex.EncodeToString(encodeUTF(t, tt.in))
			if got != tt.want {
				t.Errorf("WriteUTF(%q) = %s, want %s", tt.in, got, tt.want)
			}

			r := protocol.NewReader(bytes.NewReader(encodeUTF(t, tt.in)))
			back, err := r.ReadUTF()
			if err != nil {
				t.Fatalf("ReadUTF() error = %v", err)
			}
			if back != tt.in {
				t.Errorf("ReadUTF() = %q, want %q", back, tt.in)
			}
		})
	}
}

func TestWriteUTF_TooLong(t *testing.T) {
	longest := strings.Repeat("a", protocol.MaxStringBytes)
	if got := len(encodeUTF(t, longest)); got != protocol.MaxStringBytes+2 {
		t.Fatalf("encoded length = %d, want %d", got, protocol.MaxStringBytes+2)
	}

	tests := []struct {
		name string
		in   string
	}{
		{"ascii", strings.Repeat("a", protocol.MaxStringBytes+1)},
		// 21846 three-byte characters need 65538 bytes.
		{"multibyte", strings.Repeat("€", 21846)},
		{"nul expands", strings.Repeat("\x00", 40000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := protocol.NewWriter(io.Discard)
			err := w.WriteUTF(tt.in)
			if !errors.Is(err, protocol.ErrStringTooLong) {
				t.Errorf("WriteUTF() error = %v, want ErrStringTooLong", err)
			}
		})
	}
}

func TestReadUTF_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string // hex
		want  error
	}{
		{"clean eof", "", io.EOF},
		{"half length", "00", io.ErrUnexpectedEOF},
		{"truncated data", "000561", io.ErrUnexpectedEOF},
		{"invalid lead byte", "0001ff", protocol.ErrMalformedString},
		{"bad continuation", "0002c341", protocol.ErrMalformedString},
		{"truncated sequence", "0002e282", protocol.ErrMalformedString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := hex.DecodeString(tt.input)
			if err != nil {
				t.Fatal(err)
			}
			_, err = protocol.NewReader(bytes.NewReader(data)).ReadUTF()
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadUTF() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadUTF_UnpairedSurrogate(t *testing.T) {
	// A lone high surrogate, as Java would encode it.
	data, _ := hex.DecodeString("0003eda0bd")
	got, err := protocol.NewReader(bytes.NewReader(data)).ReadUTF()
	if err != nil {
		t.Fatalf("ReadUTF() error = %v", err)
	}
	if got != "�" {
		t.Errorf("ReadUTF() = %q, want replacement character", got)
	}
}

func TestPrimitives(t *testing.T) {
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	if err := w.WriteInt32(-2); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInt64(1 << 40); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBool(true); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBool(false); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("raw")); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("%d bytes written before Flush", buf.Len())
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	want := "fffffffe" + "0000010000000000" + "01" + "00" + hex.EncodeToString([]byte("raw"))
	if got := hex.EncodeToString(buf.Bytes()); got != want {
		t.Fatalf("encoded = %s, want %s", got, want)
	}

	r := protocol.NewReader(&buf)
	if v, err := r.ReadInt32(); err != nil || v != -2 {
		t.Errorf("ReadInt32() = %d, %v; want -2", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != 1<<40 {
		t.Errorf("ReadInt64() = %d, %v; want %d", v, err, int64(1<<40))
	}
	if v, err := r.ReadBool(); err != nil || !v {
		t.Errorf("ReadBool() = %v, %v; want true", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v {
		t.Errorf("ReadBool() = %v, %v; want false", v, err)
	}
	rest, err := io.ReadAll(r)
	if err != nil || string(rest) != "raw" {
		t.Errorf("raw body = %q, %v; want %q", rest, err, "raw")
	}
	if _, err := r.ReadInt64(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadInt64() at end error = %v, want io.ErrUnexpectedEOF", err)
	}
}
