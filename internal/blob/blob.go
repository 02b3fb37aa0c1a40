// Package blob implements shareit.BlobStore backends: in-memory,
// local filesystem and S3.
package blob

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"shareit/internal/shareit"
)

// ObjectName returns the storage name for a transfer's content:
// "<fileID>_<base name>". Directory components and backslashes are
// stripped from fileName so a client cannot escape the store root.
func ObjectName(fileID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	switch base {
	case ".", "..", "/":
		base = "blob"
	}
	return fileID + "_" + base
}

// copyExact copies size bytes from src to dst in shareit.BlobChunkSize
// chunks and never reads more than size bytes from src. If src ends
// early the error wraps shareit.ErrShortBody.
func copyExact(dst io.Writer, src io.Reader, size int64) (int64, error) {
	buf := make([]byte, shareit.BlobChunkSize)
	var written int64
	for written < size {
		chunk := buf
		if remaining := size - written; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		n, rerr := src.Read(chunk)
		if n > 0 {
			if _, werr := dst.Write(chunk[:n]); werr != nil {
				return written, fmt.Errorf("writing content: %w", werr)
			}
			written += int64(n)
		}
		if rerr != nil {
			if written == size && errors.Is(rerr, io.EOF) {
				break
			}
			if errors.Is(rerr, io.EOF) {
				return written, fmt.Errorf("read %d of %d bytes: %w", written, size, shareit.ErrShortBody)
			}
			return written, fmt.Errorf("reading content: %w", errors.Join(shareit.ErrShortBody, rerr))
		}
	}
	return written, nil
}
