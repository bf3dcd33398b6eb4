package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket control-frame variants.
type MessageType string

const (
	TypeText               MessageType = "text"
	TypeSuggestionSelected MessageType = "suggestion_selected"
	TypeLocation           MessageType = "location"
	TypeStartASR           MessageType = "start_asr"
	TypeStopASR            MessageType = "stop_asr"
	TypePing               MessageType = "ping"

	TypeConnected     MessageType = "connected"
	TypeResponse      MessageType = "response"
	TypeTranscription MessageType = "transcription"
	TypeError         MessageType = "error"
	TypePong          MessageType = "pong"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type envelope struct {
	Type MessageType `json:"type"`
}

// Inbound is the closed set of client events the multiplexer dispatches on.
type Inbound interface{ isInbound() }

// Outbound is the closed set of frames the writer serializes. AudioChunk is
// the only binary member; everything else goes out as a JSON text frame.
type Outbound interface{ isOutbound() }

type TextMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type SuggestionSelected struct {
	Type            MessageType `json:"type"`
	SuggestionIndex int         `json:"suggestion_index"`
	Accepted        bool        `json:"accepted"`
}

type LocationData struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Address   string   `json:"address,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

type LocationUpdate struct {
	Type         MessageType  `json:"type"`
	LocationData LocationData `json:"location_data"`
}

type StartASR struct {
	Type MessageType `json:"type"`
}

type StopASR struct {
	Type MessageType `json:"type"`
}

type Ping struct {
	Type MessageType `json:"type"`
}

// AudioFrame carries one inbound binary frame of raw PCM (16kHz/16-bit/mono).
// It never appears as JSON; the multiplexer constructs it from binary frames.
type AudioFrame struct {
	Data []byte
}

// MalformedFrame stands in for a text frame that failed to parse. Routing
// it through the inbound channel keeps the resulting error notice in the
// same ordered stream as every other reply, so it can never split a
// response from its audio chunk.
type MalformedFrame struct {
	Reason string
}

func (TextMessage) isInbound()        {}
func (SuggestionSelected) isInbound() {}
func (LocationUpdate) isInbound()     {}
func (StartASR) isInbound()           {}
func (StopASR) isInbound()            {}
func (Ping) isInbound()               {}
func (AudioFrame) isInbound()         {}
func (MalformedFrame) isInbound()     {}

type Connected struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id"`
}

type Response struct {
	Type            MessageType `json:"type"`
	Message         string      `json:"message"`
	SessionID       string      `json:"session_id"`
	TurnCount       int         `json:"turn_count"`
	IsComplete      bool        `json:"is_complete"`
	Suggestions     []string    `json:"suggestions"`
	SuggestionIndex *int        `json:"suggestion_index,omitempty"`
	SuggestionTotal *int        `json:"suggestion_total,omitempty"`
	Destination     *string     `json:"destination,omitempty"`
	Stopover        *string     `json:"stopover,omitempty"`
	HasAudio        bool        `json:"has_audio"`
}

type Transcription struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"is_final"`
}

type ErrorNotice struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type Pong struct {
	Type MessageType `json:"type"`
}

// AudioChunk is synthesized speech, written as one binary frame immediately
// after the response frame it belongs to.
type AudioChunk struct {
	Data []byte
}

func (Connected) isOutbound()     {}
func (Response) isOutbound()      {}
func (Transcription) isOutbound() {}
func (ErrorNotice) isOutbound()   {}
func (Pong) isOutbound()          {}
func (AudioChunk) isOutbound()    {}

// ParseClientFrame decodes one inbound JSON control frame. Unknown type
// values return ErrUnsupportedType so the caller can answer with a protocol
// error instead of silently ignoring the frame.
func ParseClientFrame(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeText:
		var msg TextMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid text frame: empty text")
		}
		return msg, nil
	case TypeSuggestionSelected:
		var msg SuggestionSelected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeLocation:
		var msg LocationUpdate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeStartASR:
		return StartASR{Type: TypeStartASR}, nil
	case TypeStopASR:
		return StopASR{Type: TypeStopASR}, nil
	case TypePing:
		return Ping{Type: TypePing}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of any known frame, for metrics labels.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case TextMessage:
		return m.Type, true
	case SuggestionSelected:
		return m.Type, true
	case LocationUpdate:
		return m.Type, true
	case StartASR:
		return m.Type, true
	case StopASR:
		return m.Type, true
	case Ping:
		return m.Type, true
	case AudioFrame:
		return "audio", true
	case MalformedFrame:
		return "malformed", true
	case Connected:
		return m.Type, true
	case Response:
		return m.Type, true
	case Transcription:
		return m.Type, true
	case ErrorNotice:
		return m.Type, true
	case Pong:
		return m.Type, true
	case AudioChunk:
		return "audio", true
	default:
		return "", false
	}
}
