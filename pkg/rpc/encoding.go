package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// EncodeAccountData encodes account data according to the specified encoding.
// jsonParsed is resolved by the caller; unparsed data falls back to base64.
func EncodeAccountData(data []byte, encoding Encoding) (interface{}, error) {
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil

	case EncodingBase64Zstd:
		compressed, err := compressZstd(data)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil

	default:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	}
}

// DecodeAccountData decodes account data from the specified encoding.
func DecodeAccountData(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)

	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decompressZstd(compressed)

	default:
		return base64.StdEncoding.DecodeString(encoded)
	}
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// encodeInstructionData encodes instruction data as base58, or base64 when
// requested.
func encodeInstructionData(data []byte, encoding Encoding) string {
	if encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(data)
	}
	return base58.Encode(data)
}

// ApplyDataSlice applies a data slice to account data.
func ApplyDataSlice(data []byte, slice *DataSlice) []byte {
	if slice == nil {
		return data
	}

	start := slice.Offset
	if start >= uint64(len(data)) {
		return []byte{}
	}

	end := uint64(len(data))
	if slice.Length < end-start {
		end = start + slice.Length
	}

	return data[start:end]
}

// ParseEncoding parses an encoding string. Unknown values yield an error.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "":
		return EncodingBase64, nil
	case EncodingBase58, EncodingBase64, EncodingBase64Zstd, EncodingJSONParsed:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}
