package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/SkillsFundingAgency/ilr-validation-service/internal/partition"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/rules"
	"github.com/SkillsFundingAgency/ilr-validation-service/internal/validation"
)

// ContentEncodingZstd is the Content-Encoding value of zstd compressed bodies.
const ContentEncodingZstd = "zstd"

// maxDecodedSize bounds the decompressed size of one body.
const maxDecodedSize = 1 << 30

// ErrCodec is wrapped by every encoding and decoding failure.
var ErrCodec = errors.New("payload codec error")

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(maxDecodedSize))
)

// wirePayload lets an already serialized reference data snapshot be reused across shards.
type wirePayload struct {
	RunID         string          `json:"runId"`
	Shard         partition.Shard `json:"shard"`
	ReferenceData json.RawMessage `json:"referenceData"`
	FileData      rules.FileData  `json:"fileData"`
}

// ErrorsResponse is the body a worker server replies with.
type ErrorsResponse struct {
	Errors []validation.Error `json:"errors"`
}

// EncodePayload serializes a payload. referenceData is the JSON snapshot of
// payload.ReferenceData; pass nil to serialize it here.
func EncodePayload(payload *Payload, referenceData []byte) ([]byte, error) {
	if referenceData == nil {
		var err error

		referenceData, err = json.Marshal(payload.ReferenceData)
		if err != nil {
			return nil, fmt.Errorf("%w: reference data: %w", ErrCodec, err)
		}
	}

	data, err := json.Marshal(wirePayload{
		RunID:         payload.RunID,
		Shard:         payload.Shard,
		ReferenceData: referenceData,
		FileData:      payload.FileData,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrCodec, err)
	}

	return data, nil
}

// DecodePayload reads a JSON payload. A null reference data snapshot leaves
// ReferenceData nil, which the rule engine treats as an empty cache.
func DecodePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrCodec, err)
	}

	if payload.Shard.Message == nil {
		return nil, fmt.Errorf("%w: payload has no shard message", ErrCodec)
	}

	return &payload, nil
}

// EncodeErrors serializes a worker reply.
func EncodeErrors(errs []validation.Error) ([]byte, error) {
	if errs == nil {
		errs = []validation.Error{}
	}

	data, err := json.Marshal(ErrorsResponse{Errors: errs})
	if err != nil {
		return nil, fmt.Errorf("%w: errors: %w", ErrCodec, err)
	}

	return data, nil
}

// DecodeErrors reads a worker reply.
func DecodeErrors(r io.Reader) ([]validation.Error, error) {
	var resp ErrorsResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: errors: %w", ErrCodec, err)
	}

	if resp.Errors == nil {
		resp.Errors = []validation.Error{}
	}

	return resp.Errors, nil
}

// Compress returns the zstd encoding of data.
func Compress(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrCodec, err)
	}

	return out, nil
}
