package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petrona-ai/callbridge/pkg/bridge/protocol"
)

func newBackendTestServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, srv.Close
}

func TestDialSendsAuthHeaders(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotBeta := make(chan string, 1)
	wsURL, closeServer := newBackendTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		gotBeta <- r.Header.Get("OpenAI-Beta")
	})
	defer closeServer()

	client, err := Dial(context.Background(), Config{URL: wsURL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if auth := <-gotAuth; auth != "Bearer sk-test" {
		t.Fatalf("unexpected Authorization header %q", auth)
	}
	if beta := <-gotBeta; beta != "realtime=v1" {
		t.Fatalf("unexpected OpenAI-Beta header %q", beta)
	}
}

func TestEventsDecodedAndUnknownDropped(t *testing.T) {
	wsURL, closeServer := newBackendTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		frames := []string{
			`{"type":"session.created"}`,
			`{"type":"response.audio.delta","delta":"b64chunk"}`,
			`not json at all`,
			`{"type":"response.audio_transcript.done","transcript":"Hi, this is Jade."}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		// wait for the client to see the close
		_, _, _ = conn.ReadMessage()
	})
	defer closeServer()

	client, err := Dial(context.Background(), Config{URL: wsURL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var got []protocol.BackendEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				if len(got) != 2 {
					t.Fatalf("expected 2 events, got %d: %+v", len(got), got)
				}
				if delta, ok := got[0].(protocol.AudioDelta); !ok || delta.Payload != "b64chunk" {
					t.Fatalf("unexpected first event: %+v", got[0])
				}
				if done, ok := got[1].(protocol.AgentTranscriptDone); !ok || done.Transcript != "Hi, this is Jade." {
					t.Fatalf("unexpected second event: %+v", got[1])
				}
				if err := client.Err(); err != nil {
					t.Fatalf("clean close reported error: %v", err)
				}
				return
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestSendReachesServer(t *testing.T) {
	received := make(chan []byte, 1)
	wsURL, closeServer := newBackendTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
	})
	defer closeServer()

	client, err := Dial(context.Background(), Config{URL: wsURL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	msg, err := protocol.EncodeInputAudioAppend("frame-1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := client.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case data := <-received:
		var decoded struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded.Type != "input_audio_buffer.append" || decoded.Audio != "frame-1" {
			t.Fatalf("unexpected message: %+v", decoded)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server receive")
	}
}

func TestKeepalivePingsSentWhileIdle(t *testing.T) {
	pinged := make(chan struct{}, 4)
	wsURL, closeServer := newBackendTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.SetPingHandler(func(string) error {
			select {
			case pinged <- struct{}{}:
			default:
			}
			return nil
		})
		// ping frames are only processed while a read is pending
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	client, err := Dial(context.Background(), Config{URL: wsURL, APIKey: "sk-test", PingInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	select {
	case <-pinged:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a keepalive ping")
	}
}

func TestDialValidation(t *testing.T) {
	if _, err := Dial(context.Background(), Config{APIKey: "sk"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := Dial(context.Background(), Config{URL: "wss://example.com"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
