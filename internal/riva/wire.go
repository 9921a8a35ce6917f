package riva

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	streamingRecognizeMethod = "/nvidia.riva.asr.RivaSpeechRecognition/StreamingRecognize"
	encodingLinearPCM        = 1
)

// rawFrame carries pre-encoded protobuf bytes through grpc.
type rawFrame struct {
	data []byte
}

// rawCodec passes rawFrame payloads through untouched. It registers under the
// "proto" name so the wire content type stays application/grpc+proto.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	frame, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("riva codec: unexpected message type %T", v)
	}
	return frame.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	frame, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("riva codec: unexpected message type %T", v)
	}
	frame.data = append(frame.data[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

// recognitionConfig mirrors the RecognitionConfig fields earshot sets.
type recognitionConfig struct {
	SampleRateHertz      int32
	LanguageCode         string
	AudioChannelCount    int32
	AutomaticPunctuation bool
	Model                string
	SpeechPhrases        []SpeechPhrase
	InterimResults       bool
}

// encodeConfigRequest builds StreamingRecognizeRequest{streaming_config}.
func encodeConfigRequest(cfg recognitionConfig) []byte {
	var rc []byte
	rc = appendVarintField(rc, 1, encodingLinearPCM)
	rc = appendVarintField(rc, 2, uint64(cfg.SampleRateHertz))
	rc = appendStringField(rc, 3, cfg.LanguageCode)
	rc = appendVarintField(rc, 4, 1)
	for _, phrase := range cfg.SpeechPhrases {
		var sc []byte
		sc = appendStringField(sc, 1, phrase.Phrase)
		sc = protowire.AppendTag(sc, 4, protowire.Fixed32Type)
		sc = protowire.AppendFixed32(sc, math.Float32bits(phrase.Boost))
		rc = appendBytesField(rc, 6, sc)
	}
	rc = appendVarintField(rc, 7, uint64(cfg.AudioChannelCount))
	if cfg.AutomaticPunctuation {
		rc = appendVarintField(rc, 11, 1)
	}
	rc = appendStringField(rc, 13, cfg.Model)

	var streaming []byte
	streaming = appendBytesField(streaming, 1, rc)
	if cfg.InterimResults {
		streaming = appendVarintField(streaming, 2, 1)
	}

	return appendBytesField(nil, 1, streaming)
}

// encodeAudioRequest builds StreamingRecognizeRequest{audio_content}.
func encodeAudioRequest(chunk []byte) []byte {
	return appendBytesField(nil, 2, chunk)
}

// recognitionResult is one decoded StreamingRecognitionResult.
type recognitionResult struct {
	Transcript string  `json:"transcript"`
	Confidence float32 `json:"confidence,omitempty"`
	IsFinal    bool    `json:"is_final"`
	Stability  float32 `json:"stability,omitempty"`
}

// decodeResponse parses StreamingRecognizeResponse, keeping the top
// alternative of each result.
func decodeResponse(data []byte) ([]recognitionResult, error) {
	var results []recognitionResult
	err := eachField(data, func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		result, err := decodeResult(value)
		if err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		results = append(results, result)
		return nil
	})
	return results, err
}

func decodeResult(data []byte) (recognitionResult, error) {
	var (
		result    recognitionResult
		sawTopAlt bool
	)
	err := eachField(data, func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			if sawTopAlt {
				return nil
			}
			sawTopAlt = true
			return eachField(value, func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error {
				switch {
				case num == 1 && typ == protowire.BytesType:
					result.Transcript = string(value)
				case num == 2 && typ == protowire.Fixed32Type:
					result.Confidence = math.Float32frombits(uint32(scalar))
				}
				return nil
			})
		case num == 2 && typ == protowire.VarintType:
			result.IsFinal = scalar != 0
		case num == 3 && typ == protowire.Fixed32Type:
			result.Stability = math.Float32frombits(uint32(scalar))
		}
		return nil
	})
	return result, err
}

var errMalformed = errors.New("malformed protobuf message")

// eachField walks the top-level fields of a message. Length-delimited values
// arrive in value; varint and fixed values arrive in scalar.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errMalformed
		}
		data = data[n:]

		var (
			value  []byte
			scalar uint64
		)
		switch typ {
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(data)
			scalar = uint64(v)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			value, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return errMalformed
		}
		data = data[n:]

		if err := fn(num, typ, value, scalar); err != nil {
			return err
		}
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
