package util

import (
	"bytes"
	"fmt"
	"io"
)

// ReadAll reads reader in chunkSize steps and fails once more than maxSize bytes were read. maxSize <= 0 means no limit.
func ReadAll(reader io.Reader, chunkSize int64, maxSize int64) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, chunkSize))
	for {
		n, err := io.CopyN(buf, reader, chunkSize)
		if maxSize > 0 && int64(buf.Len()) > maxSize {
			return nil, fmt.Errorf("response body exceeds %d bytes", maxSize)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if n == 0 {
			break
		}
	}

	return buf.Bytes(), nil
}
