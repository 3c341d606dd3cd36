package checkpoint

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// FailedFileInfo mirrors original_source/backend/utils/checkpoint_manager.py's
// FailedFileInfo dataclass: retry count, last error text, and the last
// known cursor position so the next attempt can skip the offending
// symbol. Persisted as a small hand-encoded protobuf message (field tags
// below) via protowire directly — the module already depends on
// google.golang.org/protobuf transitively through its wider stack, and a
// fixed four-field record needs no .proto/protoc step to benefit from
// protobuf's compact varint/length-delimited wire format.
type FailedFileInfo struct {
	RetryCount int
	LastError  string
	LastLine   int
	LastChar   int
}

const (
	fieldRetryCount = 1
	fieldLastError  = 2
	fieldLastLine   = 3
	fieldLastChar   = 4
)

// encodeFailedFileInfo serializes info to its protobuf wire form.
func encodeFailedFileInfo(info FailedFileInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRetryCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.RetryCount))
	b = protowire.AppendTag(b, fieldLastError, protowire.BytesType)
	b = protowire.AppendString(b, info.LastError)
	b = protowire.AppendTag(b, fieldLastLine, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.LastLine))
	b = protowire.AppendTag(b, fieldLastChar, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.LastChar))
	return b
}

// decodeFailedFileInfo deserializes a blob produced by encodeFailedFileInfo.
func decodeFailedFileInfo(b []byte) (FailedFileInfo, error) {
	var info FailedFileInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return info, fmt.Errorf("checkpoint: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRetryCount:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return info, fmt.Errorf("checkpoint: malformed retry_count")
			}
			info.RetryCount = int(v)
			b = b[n:]
		case fieldLastError:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return info, fmt.Errorf("checkpoint: malformed last_error")
			}
			info.LastError = v
			b = b[n:]
		case fieldLastLine:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return info, fmt.Errorf("checkpoint: malformed last_line")
			}
			info.LastLine = int(v)
			b = b[n:]
		case fieldLastChar:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return info, fmt.Errorf("checkpoint: malformed last_char")
			}
			info.LastChar = int(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return info, fmt.Errorf("checkpoint: malformed field %d", num)
			}
			b = b[n:]
		}
	}
	return info, nil
}
