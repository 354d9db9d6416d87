// Package protocol defines the wire shapes on both legs of a call session:
// the telephony media-stream events on one side and the realtime AI
// backend's event stream on the other. Both are decoded into closed event
// sets so the session state machine can be driven without sockets.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// TelephonyEvent is the closed set of events the telephony media channel
// delivers for one call: connected, start, media, stop.
type TelephonyEvent interface {
	telephonyEvent()
}

// TelephonyConnected arrives first, before the stream is described.
type TelephonyConnected struct{}

// TelephonyStart carries the stream identity and, when the inbound-call
// webhook passed it along, the caller's number.
type TelephonyStart struct {
	StreamID     string
	CallSID      string
	CallerNumber string
}

// TelephonyMedia carries one base64 audio frame from the caller.
type TelephonyMedia struct {
	Payload string
}

// TelephonyStop signals the caller-side hang-up.
type TelephonyStop struct{}

func (TelephonyConnected) telephonyEvent() {}
func (TelephonyStart) telephonyEvent()     {}
func (TelephonyMedia) telephonyEvent()     {}
func (TelephonyStop) telephonyEvent()      {}

type telephonyEnvelope struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

func DecodeTelephonyEvent(data []byte) (TelephonyEvent, error) {
	var env telephonyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badFrame("invalid telephony json frame", "")
	}

	switch strings.TrimSpace(env.Event) {
	case "connected":
		return TelephonyConnected{}, nil
	case "start":
		if env.Start == nil {
			return nil, badFrame("start frame missing start block", "start")
		}
		if strings.TrimSpace(env.Start.StreamSID) == "" {
			return nil, badFrame("start.streamSid is required", "start.streamSid")
		}
		ev := TelephonyStart{
			StreamID: env.Start.StreamSID,
			CallSID:  env.Start.CallSID,
		}
		if env.Start.CustomParameters != nil {
			ev.CallerNumber = env.Start.CustomParameters["callerNumber"]
		}
		return ev, nil
	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return nil, badFrame("media frame missing payload", "media.payload")
		}
		return TelephonyMedia{Payload: env.Media.Payload}, nil
	case "stop":
		return TelephonyStop{}, nil
	case "":
		return nil, badFrame("missing event", "event")
	default:
		// Telephony providers add event types over time; unknown ones are
		// not an error, the session just ignores them.
		return nil, nil
	}
}

type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// EncodeTelephonyMedia renders the single outbound frame shape the
// telephony leg accepts: synthesized audio tagged with the stream id.
func EncodeTelephonyMedia(streamID, payloadB64 string) ([]byte, error) {
	if strings.TrimSpace(streamID) == "" {
		return nil, badFrame("streamSid is required", "streamSid")
	}
	frame := outboundMedia{Event: "media", StreamSID: streamID}
	frame.Media.Payload = payloadB64
	return json.Marshal(frame)
}
