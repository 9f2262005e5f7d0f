package redis

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// stored values carry a one byte header naming their encoding
const (
	frameRaw byte = 0
	frameLZ4 byte = 1
)

func frame(value []byte, compress bool) ([]byte, error) {
	if !compress {
		return append([]byte{frameRaw}, value...), nil
	}
	compressed, err := compressLZ4(value)
	if err != nil {
		return nil, err
	}
	return append([]byte{frameLZ4}, compressed...), nil
}

func unframe(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("stored value has no header")
	}
	switch data[0] {
	case frameRaw:
		return data[1:], nil
	case frameLZ4:
		return decompressLZ4(data[1:])
	default:
		return nil, fmt.Errorf("unknown value encoding %d", data[0])
	}
}

// compressLZ4 compresses data using LZ4
func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write LZ4 compressed data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close LZ4 writer: %w", err)
	}

	return buf.Bytes(), nil
}

// decompressLZ4 decompresses LZ4 data
func decompressLZ4(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read LZ4 decompressed data: %w", err)
	}

	return decompressed, nil
}
