package commsutil

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	comms "github.com/nats-io/nats.go"
)

const codecLogPrefix = "commsutil:codec"

// Message header and encoding used for compressed payloads.
const (
	HeaderContentEncoding = "Content-Encoding"
	EncodingZstd          = "zstd"
)

// CompressThreshold is the payload size above which NewMsg compresses.
// Drained call results can get close to the default 1MB COMMS payload limit.
const CompressThreshold = 64 * 1024

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// NewMsg builds a message for subject carrying v as JSON. Payloads larger
// than CompressThreshold are zstd-compressed and flagged in the headers.
func NewMsg(subject string, v interface{}) (*comms.Msg, error) {
	data, err := EncodePayload(v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode payload: %w", codecLogPrefix, err)
	}
	msg := comms.NewMsg(subject)
	if len(data) > CompressThreshold {
		msg.Header.Set(HeaderContentEncoding, EncodingZstd)
		data = zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/4))
	}
	msg.Data = data
	return msg, nil
}

// DecodeMsg decodes the JSON payload of msg into v, decompressing it first
// when the message was built by NewMsg with compression.
func DecodeMsg(msg *comms.Msg, v interface{}) error {
	data := msg.Data
	if msg.Header.Get(HeaderContentEncoding) == EncodingZstd {
		var err error
		data, err = zstdDecoder.DecodeAll(msg.Data, nil)
		if err != nil {
			return fmt.Errorf("%s - failed to decompress payload: %w", codecLogPrefix, err)
		}
	}
	return DecodePayload(data, v)
}
