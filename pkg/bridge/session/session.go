// Package session runs one phone call: it bridges the telephony media
// stream and the realtime AI backend, dispatches the agent's tool calls,
// and flushes the call record when the call ends.
//
// All session state is owned by the single Run loop. The connection
// wrappers push decoded events into channels; nothing else mutates the
// call state, so no locking is needed around it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrona-ai/callbridge/pkg/bridge/callstate"
	"github.com/petrona-ai/callbridge/pkg/bridge/intent"
	"github.com/petrona-ai/callbridge/pkg/bridge/protocol"
	"github.com/petrona-ai/callbridge/pkg/bridge/tools"
	"github.com/petrona-ai/callbridge/pkg/crm"
)

// TelephonyConn is the caller-side leg. Events is closed when the leg
// drops; SendMedia pushes synthesized audio back to the caller.
type TelephonyConn interface {
	Events() <-chan protocol.TelephonyEvent
	SendMedia(streamID, payloadB64 string) error
	Close() error
}

// BackendConn is the AI-side leg.
type BackendConn interface {
	Events() <-chan protocol.BackendEvent
	Send(data []byte) error
	Close() error
}

// DialFunc opens a fresh backend connection, used for the initial dial
// and for every reconnect attempt.
type DialFunc func(ctx context.Context) (BackendConn, error)

// InstructionsFunc builds the agent instructions for this call. It runs
// concurrently with stream setup; the backend is dialed once both the
// stream has started and the instructions are ready, whichever is last.
type InstructionsFunc func(ctx context.Context) (string, error)

type Config struct {
	// MaxReconnects bounds backend redial attempts per call. A caller
	// hang-up overrides it so a dead call never redials.
	MaxReconnects      int
	ReconnectDelay     time.Duration
	Voice              string
	TranscriptionModel string
	Greeting           string
	MaxTranscriptChars int
}

type Dependencies struct {
	Telephony    TelephonyConn
	DialBackend  DialFunc
	Instructions InstructionsFunc
	Tools        *tools.Dispatcher
	Gateway      crm.Gateway
	Classifier   intent.Classifier
	Logger       *slog.Logger
	SessionID    string
	Config       Config
	Now          func() time.Time
}

type Bridge struct {
	telephony    TelephonyConn
	dialBackend  DialFunc
	instructions InstructionsFunc
	tools        *tools.Dispatcher
	gateway      crm.Gateway
	logger       *slog.Logger
	sessionID    string
	cfg          Config
	now          func() time.Time

	state *callstate.State
}

const defaultGreeting = "A caller just picked up. Greet them warmly and briefly."

func New(deps Dependencies) (*Bridge, error) {
	if deps.Telephony == nil {
		return nil, fmt.Errorf("telephony connection is required")
	}
	if deps.DialBackend == nil {
		return nil, fmt.Errorf("backend dialer is required")
	}
	if deps.Instructions == nil {
		return nil, fmt.Errorf("instructions builder is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("crm gateway is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.MaxReconnects < 0 {
		deps.Config.MaxReconnects = 0
	}
	if deps.Config.ReconnectDelay <= 0 {
		deps.Config.ReconnectDelay = 500 * time.Millisecond
	}
	if deps.Config.Greeting == "" {
		deps.Config.Greeting = defaultGreeting
	}

	return &Bridge{
		telephony:    deps.Telephony,
		dialBackend:  deps.DialBackend,
		instructions: deps.Instructions,
		tools:        deps.Tools,
		gateway:      deps.Gateway,
		logger:       deps.Logger.With("session_id", deps.SessionID),
		sessionID:    deps.SessionID,
		cfg:          deps.Config,
		now:          deps.Now,
		state:        callstate.New(deps.Classifier, deps.Config.MaxTranscriptChars),
	}, nil
}

type instructionsResult struct {
	text string
	err  error
}

type dialResult struct {
	conn BackendConn
	err  error
}

// Run drives the call until the caller hangs up, the backend drops past
// its reconnect budget, or ctx is canceled. It always flushes the call
// record exactly once before returning.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	instructionsCh := make(chan instructionsResult, 1)
	go func() {
		text, err := b.instructions(ctx)
		instructionsCh <- instructionsResult{text: text, err: err}
	}()

	var (
		backend       BackendConn
		backendEvents <-chan protocol.BackendEvent
		dialCh        chan dialResult

		instructions      string
		instructionsReady bool

		started    bool // telephony start seen
		configured bool // session.update sent on current backend conn

		reconnects  int
		callStarted time.Time

		reconnectTimer *time.Timer
	)

	reconnectCh := func() <-chan time.Time {
		if reconnectTimer == nil {
			return nil
		}
		return reconnectTimer.C
	}

	// maybeDial connects the backend leg once the stream has started and
	// the instructions are built, whichever arrives last. Redials reuse it
	// via the reconnect timer.
	maybeDial := func() {
		if backend != nil || dialCh != nil || reconnectTimer != nil {
			return
		}
		if !started || !instructionsReady {
			return
		}
		dialCh = make(chan dialResult, 1)
		go b.dial(ctx, dialCh)
	}

	finish := func() {
		if reconnectTimer != nil {
			reconnectTimer.Stop()
			reconnectTimer = nil
		}
		if backend != nil {
			_ = backend.Close()
			backend = nil
			backendEvents = nil
			configured = false
		}
		_ = b.telephony.Close()
		b.flush(callStarted)
	}

	// configure runs on every backend (re)open: session.update followed by
	// the greeting prompt. Instructions are guaranteed ready before a dial
	// is ever attempted.
	configure := func() {
		if backend == nil || configured {
			return
		}
		msg, err := protocol.EncodeSessionUpdate(protocol.SessionConfig{
			Instructions:       instructions,
			Voice:              b.cfg.Voice,
			TranscriptionModel: b.cfg.TranscriptionModel,
			Tools:              tools.Definitions(),
		})
		if err != nil {
			b.logger.Error("session config encode failed", "error", err)
			return
		}
		if err := backend.Send(msg); err != nil {
			b.logger.Warn("session config send failed", "error", err)
			return
		}
		configured = true
		b.logger.Info("backend session configured", "reconnects", reconnects)

		if err := b.sendGreeting(backend); err != nil {
			b.logger.Warn("greeting send failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("session canceled, draining call")
			finish()
			return ctx.Err()

		case res := <-instructionsCh:
			instructionsCh = nil
			if res.err != nil {
				b.logger.Error("instructions build failed", "error", res.err)
				finish()
				return res.err
			}
			instructions = res.text
			instructionsReady = true
			maybeDial()

		case res := <-dialCh:
			dialCh = nil
			if res.err != nil {
				b.logger.Warn("backend dial failed", "error", res.err, "attempt", reconnects)
				if reconnects >= b.cfg.MaxReconnects {
					finish()
					return res.err
				}
				reconnects++
				reconnectTimer = time.NewTimer(b.cfg.ReconnectDelay)
				continue
			}
			backend = res.conn
			backendEvents = backend.Events()
			// Duration is measured from the most recent backend open, so
			// a reconnected call doesn't double-count the gap.
			callStarted = b.now()
			configure()

		case <-reconnectCh():
			reconnectTimer = nil
			maybeDial()

		case ev, ok := <-b.telephony.Events():
			if !ok {
				b.logger.Info("telephony leg closed")
				finish()
				return nil
			}
			switch ev := ev.(type) {
			case protocol.TelephonyConnected:
				b.logger.Info("telephony stream connected")

			case protocol.TelephonyStart:
				started = true
				b.state.StreamID = ev.StreamID
				b.state.CallSID = ev.CallSID
				b.state.CallerNumber = ev.CallerNumber
				b.logger.Info("call started",
					"stream_id", ev.StreamID, "call_sid", ev.CallSID, "caller", ev.CallerNumber)
				maybeDial()

			case protocol.TelephonyMedia:
				if backend == nil || !configured {
					continue // no backend to feed yet, frame dropped
				}
				msg, err := protocol.EncodeInputAudioAppend(ev.Payload)
				if err != nil {
					continue
				}
				if err := backend.Send(msg); err != nil {
					b.logger.Warn("caller audio forward failed", "error", err)
				}

			case protocol.TelephonyStop:
				// Hang-up overrides the reconnect budget: never redial a
				// call nobody is on.
				b.logger.Info("caller hung up")
				finish()
				return nil
			}

		case ev, ok := <-backendEvents:
			if !ok {
				backend = nil
				backendEvents = nil
				configured = false
				if reconnects >= b.cfg.MaxReconnects {
					b.logger.Warn("backend connection lost, reconnect budget spent")
					finish()
					return fmt.Errorf("backend connection lost after %d reconnects", reconnects)
				}
				reconnects++
				b.logger.Info("backend connection lost, scheduling reconnect", "attempt", reconnects)
				reconnectTimer = time.NewTimer(b.cfg.ReconnectDelay)
				continue
			}
			b.handleBackendEvent(ctx, backend, ev)
		}
	}
}

func (b *Bridge) dial(ctx context.Context, out chan<- dialResult) {
	conn, err := b.dialBackend(ctx)
	if err == nil && ctx.Err() != nil {
		// Run already returned; nobody will adopt this connection.
		_ = conn.Close()
		conn, err = nil, ctx.Err()
	}
	out <- dialResult{conn: conn, err: err}
}

func (b *Bridge) sendGreeting(backend BackendConn) error {
	msg, err := protocol.EncodeUserText(b.cfg.Greeting)
	if err != nil {
		return err
	}
	if err := backend.Send(msg); err != nil {
		return err
	}
	create, err := protocol.EncodeResponseCreate()
	if err != nil {
		return err
	}
	return backend.Send(create)
}

func (b *Bridge) handleBackendEvent(ctx context.Context, backend BackendConn, ev protocol.BackendEvent) {
	switch ev := ev.(type) {
	case protocol.AudioDelta:
		if b.state.StreamID == "" {
			return // caller stream not announced yet
		}
		if err := b.telephony.SendMedia(b.state.StreamID, ev.Payload); err != nil {
			b.logger.Warn("agent audio forward failed", "error", err)
		}

	case protocol.ToolCall:
		b.logger.Info("tool call", "tool", ev.Name, "call_id", ev.CallID)
		result := b.tools.Dispatch(ctx, b.state, ev)
		out, err := protocol.EncodeFunctionOutput(ev.CallID, result)
		if err != nil {
			b.logger.Error("tool result encode failed", "tool", ev.Name, "error", err)
			return
		}
		if err := backend.Send(out); err != nil {
			b.logger.Warn("tool result send failed", "tool", ev.Name, "error", err)
			return
		}
		create, err := protocol.EncodeResponseCreate()
		if err != nil {
			return
		}
		if err := backend.Send(create); err != nil {
			b.logger.Warn("response create send failed", "error", err)
		}

	case protocol.AgentTranscriptDone:
		b.state.ObserveAgentUtterance(ev.Transcript)

	case protocol.CallerTranscriptDone:
		b.state.ObserveCallerUtterance(ev.Transcript)

	case protocol.TranscriptionFailed:
		b.logger.Warn("caller transcription failed", "reason", ev.Reason)

	case protocol.BackendError:
		b.logger.Error("backend error", "code", ev.Code, "message", ev.Message)
	}
}

// flush writes the terminal call record. Run calls it exactly once, on
// every exit path.
func (b *Bridge) flush(callStarted time.Time) {
	snap := b.state.Snapshot()

	duration := "0m 0s"
	if !callStarted.IsZero() {
		secs := int(b.now().Sub(callStarted).Seconds())
		duration = fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}

	callType := snap.Lead.Interest
	if callType == "" {
		callType = "General"
	}

	// Persistence here is fire-and-forget with its own deadline; the
	// caller is already gone.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	phone := snap.CallerNumber
	if phone == "" {
		phone = snap.Lead.Phone
	}
	if phone == "" {
		phone = "Unknown"
	}
	if err := b.gateway.LogCall(ctx, crm.CallLog{
		Phone:    phone,
		Duration: duration,
		Type:     callType,
		Summary:  snap.Transcript,
		Outcome:  snap.Outcome,
	}); err != nil {
		b.logger.Error("call log failed", "error", err)
	}

	if !snap.LeadSaved && snap.Lead.Name != "" {
		if err := b.gateway.SaveLead(ctx, snap.Lead); err != nil {
			b.logger.Error("terminal lead save failed", "name", snap.Lead.Name, "error", err)
		}
	}

	b.logger.Info("call flushed",
		"caller", snap.CallerNumber, "duration", duration, "outcome", snap.Outcome)
}
