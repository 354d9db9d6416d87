package protocol

import (
	"encoding/json"
	"strings"
)

// BackendEvent is the closed set of realtime-backend events the session
// loop reacts to. Events the loop has no use for decode to nil.
type BackendEvent interface {
	backendEvent()
}

// AudioDelta carries one base64 chunk of synthesized agent speech.
type AudioDelta struct {
	Payload string
}

// ToolCall signals that the agent finished emitting arguments for a
// function call and expects a function_call_output in response.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// AgentTranscriptDone carries the final transcript of one agent response.
type AgentTranscriptDone struct {
	Transcript string
}

// CallerTranscriptDone carries the completed transcription of one caller
// utterance.
type CallerTranscriptDone struct {
	Transcript string
}

// TranscriptionFailed reports that a caller utterance could not be
// transcribed. The session logs it and moves on.
type TranscriptionFailed struct {
	Reason string
}

// BackendError is a protocol-level error reported by the backend.
type BackendError struct {
	Code    string
	Message string
}

func (AudioDelta) backendEvent()           {}
func (ToolCall) backendEvent()             {}
func (AgentTranscriptDone) backendEvent()  {}
func (CallerTranscriptDone) backendEvent() {}
func (TranscriptionFailed) backendEvent()  {}
func (BackendError) backendEvent()         {}

type backendEnvelope struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func DecodeBackendEvent(data []byte) (BackendEvent, error) {
	var env backendEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badFrame("invalid backend json frame", "")
	}

	switch env.Type {
	case "response.audio.delta":
		if env.Delta == "" {
			return nil, badFrame("audio delta missing payload", "delta")
		}
		return AudioDelta{Payload: env.Delta}, nil
	case "response.function_call_arguments.done":
		if strings.TrimSpace(env.Name) == "" {
			return nil, badFrame("function call missing name", "name")
		}
		return ToolCall{CallID: env.CallID, Name: env.Name, Arguments: env.Arguments}, nil
	case "response.audio_transcript.done":
		return AgentTranscriptDone{Transcript: env.Transcript}, nil
	case "conversation.item.input_audio_transcription.completed":
		return CallerTranscriptDone{Transcript: env.Transcript}, nil
	case "conversation.item.input_audio_transcription.failed":
		ev := TranscriptionFailed{}
		if env.Error != nil {
			ev.Reason = env.Error.Message
		}
		return ev, nil
	case "error":
		ev := BackendError{}
		if env.Error != nil {
			ev.Code = env.Error.Code
			ev.Message = env.Error.Message
		}
		return ev, nil
	case "":
		return nil, badFrame("missing type", "type")
	default:
		// The backend emits many lifecycle events the session ignores
		// (session.created, response.done, rate limit notices, ...).
		return nil, nil
	}
}

// SessionConfig parameterizes the session.update message that configures
// the backend realtime session right after dial.
type SessionConfig struct {
	Instructions       string
	Voice              string
	TranscriptionModel string
	Tools              []ToolDefinition
}

// ToolDefinition is one function the agent is allowed to call, with a
// JSON-schema parameter description.
type ToolDefinition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type sessionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		TurnDetection struct {
			Type              string  `json:"type"`
			Threshold         float64 `json:"threshold"`
			PrefixPaddingMS   int     `json:"prefix_padding_ms"`
			SilenceDurationMS int     `json:"silence_duration_ms"`
		} `json:"turn_detection"`
		InputAudioFormat        string           `json:"input_audio_format"`
		OutputAudioFormat       string           `json:"output_audio_format"`
		Voice                   string           `json:"voice"`
		Instructions            string           `json:"instructions"`
		Modalities              []string         `json:"modalities"`
		Temperature             float64          `json:"temperature"`
		Tools                   []ToolDefinition `json:"tools"`
		InputAudioTranscription struct {
			Model string `json:"model"`
		} `json:"input_audio_transcription"`
	} `json:"session"`
}

// EncodeSessionUpdate renders the session.update configuration message.
// Audio is G.711 mu-law on both directions to match the telephony leg.
func EncodeSessionUpdate(cfg SessionConfig) ([]byte, error) {
	msg := sessionUpdate{Type: "session.update"}
	msg.Session.TurnDetection.Type = "server_vad"
	msg.Session.TurnDetection.Threshold = 0.4
	msg.Session.TurnDetection.PrefixPaddingMS = 200
	msg.Session.TurnDetection.SilenceDurationMS = 400
	msg.Session.InputAudioFormat = "g711_ulaw"
	msg.Session.OutputAudioFormat = "g711_ulaw"
	msg.Session.Voice = cfg.Voice
	msg.Session.Instructions = cfg.Instructions
	msg.Session.Modalities = []string{"text", "audio"}
	msg.Session.Temperature = 0.7
	msg.Session.Tools = cfg.Tools
	msg.Session.InputAudioTranscription.Model = cfg.TranscriptionModel
	return json.Marshal(msg)
}

type inputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// EncodeInputAudioAppend forwards one caller audio frame to the backend.
func EncodeInputAudioAppend(payloadB64 string) ([]byte, error) {
	return json.Marshal(inputAudioAppend{Type: "input_audio_buffer.append", Audio: payloadB64})
}

type conversationItemCreate struct {
	Type string          `json:"type"`
	Item json.RawMessage `json:"item"`
}

type functionOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// EncodeFunctionOutput returns the function_call_output item answering a
// ToolCall, with the result serialized as a JSON string.
func EncodeFunctionOutput(callID string, result any) ([]byte, error) {
	out, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	item, err := json.Marshal(functionOutputItem{
		Type:   "function_call_output",
		CallID: callID,
		Output: string(out),
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(conversationItemCreate{Type: "conversation.item.create", Item: item})
}

type messageItem struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// EncodeUserText injects a text message into the conversation, used to
// nudge the agent into speaking first on connect.
func EncodeUserText(text string) ([]byte, error) {
	item := messageItem{Type: "message", Role: "user"}
	item.Content = append(item.Content, struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "input_text", Text: text})
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	return json.Marshal(conversationItemCreate{Type: "conversation.item.create", Item: raw})
}

// EncodeResponseCreate asks the backend to produce the next agent turn.
func EncodeResponseCreate() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: "response.create"})
}
