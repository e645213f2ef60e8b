package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/executor"
)

// Message types exchanged with the backend.
const (
	TypeFormStructure        = "biowel_form_structure"
	TypeAudioChunk           = "audio_chunk"
	TypeEndStream            = "end_stream"
	TypePartialTranscription = "partial_transcription"
	TypeFinalSegment         = "final_segment"
	TypeTranscription        = "transcription"
	TypePartialAutofill      = "partial_autofill"
	TypeAutofillData         = "autofill_data"
	TypeInfo                 = "info"
	TypeError                = "error"
	TypeValidationResult     = "validation_result"
	TypeTTSAudio             = "tts_audio"
)

// DataConfidence is the confidence given to items of an autofill_data
// message, which carries none.
const DataConfidence = 0.9

// FormStructure announces the scanned form at the start of a session.
type FormStructure struct {
	Type          string            `json:"type"`
	Fields        []crawler.Field   `json:"fields"`
	AlreadyFilled map[string]string `json:"already_filled"`
}

// AudioChunk carries base64 PCM16 at 16 kHz.
type AudioChunk struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type endStream struct {
	Type string `json:"type"`
}

// Inbound is any message the backend sends. Only the fields of its Type
// are populated.
type Inbound struct {
	Type       string                    `json:"type"`
	Text       string                    `json:"text,omitempty"`
	IsFinal    bool                      `json:"is_final,omitempty"`
	Message    string                    `json:"message,omitempty"`
	Items      []executor.Item           `json:"items,omitempty"`
	SourceText string                    `json:"source_text,omitempty"`
	Data       map[string]executor.Value `json:"data,omitempty"`
}

// AutofillItems returns the items of a partial_autofill or autofill_data
// message. Map entries come back sorted by key.
func (m Inbound) AutofillItems() []executor.Item {
	if m.Type == TypeAutofillData {
		items := executor.ItemsFromMap(m.Data)
		for i := range items {
			items[i].Confidence = DataConfidence
		}
		return items
	}
	return m.Items
}

func encodeStructure(fields []crawler.Field, filled map[string]string) ([]byte, error) {
	if fields == nil {
		fields = []crawler.Field{}
	}
	if filled == nil {
		filled = map[string]string{}
	}
	return json.Marshal(FormStructure{Type: TypeFormStructure, Fields: fields, AlreadyFilled: filled})
}

func encodeAudio(frame []byte) ([]byte, error) {
	return json.Marshal(AudioChunk{Type: TypeAudioChunk, Data: base64.StdEncoding.EncodeToString(frame)})
}

func encodeEndStream() ([]byte, error) {
	return json.Marshal(endStream{Type: TypeEndStream})
}

// Decode parses one inbound frame. Types the client does not handle are
// returned with only Type set.
func Decode(data []byte) (Inbound, error) {
	if !gjson.ValidBytes(data) {
		return Inbound{}, fmt.Errorf("decode message: invalid json")
	}
	typ := gjson.GetBytes(data, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Inbound{}, fmt.Errorf("decode message: missing type")
	}

	switch typ.Str {
	case TypeValidationResult, TypeTTSAudio:
		return Inbound{Type: typ.Str}, nil
	}

	var m Inbound
	if err := json.Unmarshal(data, &m); err != nil {
		return Inbound{}, fmt.Errorf("decode %s: %w", typ.Str, err)
	}
	return m, nil
}
