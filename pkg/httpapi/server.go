// Package httpapi exposes the bridge's HTTP surface: the inbound-call
// webhook, the media-stream websocket, voicemail and WhatsApp webhooks,
// and the health/status endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/petrona-ai/callbridge/pkg/bridge/config"
	"github.com/petrona-ai/callbridge/pkg/bridge/lifecycle"
	"github.com/petrona-ai/callbridge/pkg/bridge/session"
	"github.com/petrona-ai/callbridge/pkg/bridge/sessions"
	"github.com/petrona-ai/callbridge/pkg/crm"
)

// SessionStarter runs one call to completion on an accepted telephony
// connection. The HTTP handler blocks in it for the call's lifetime.
type SessionStarter func(ctx context.Context, tele session.TelephonyConn, sessionID string) error

// PropertyCounter is the slice of the listings cache the status page needs.
type PropertyCounter interface {
	Properties() []crm.Property
}

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	gateway crm.Gateway
	tracker *sessions.Tracker
	life    *lifecycle.Lifecycle
	counter PropertyCounter
	start   SessionStarter

	limiter *rateLimiter
	started time.Time

	statusMu     sync.Mutex
	statusCached []byte
	statusTime   time.Time
}

type Dependencies struct {
	Config    config.Config
	Logger    *slog.Logger
	Gateway   crm.Gateway
	Tracker   *sessions.Tracker
	Lifecycle *lifecycle.Lifecycle
	Listings  PropertyCounter
	Sessions  SessionStarter
}

func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		mux:     http.NewServeMux(),
		gateway: deps.Gateway,
		tracker: deps.Tracker,
		life:    deps.Lifecycle,
		counter: deps.Listings,
		start:   deps.Sessions,
		limiter: newRateLimiter(deps.Config.StatusRateLimitPerMinute),
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /incoming-call", s.handleIncomingCall)
	s.mux.HandleFunc("GET /incoming-call", s.handleIncomingCallInfo)
	s.mux.HandleFunc("GET /media-stream", s.handleMediaStream)
	s.mux.HandleFunc("POST /voicemail-transcription", s.handleVoicemailTranscription)
	s.mux.HandleFunc("POST /incoming-whatsapp", s.handleIncomingWhatsApp)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoverMiddleware(s.logger, h)
	h = accessLogMiddleware(s.logger, h)
	h = requestIDMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	draining := s.life.IsDraining()
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":             !draining,
		"draining":       draining,
		"active_calls":   s.tracker.Count(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	client, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		client = r.RemoteAddr
	}
	if !s.limiter.allow(client, time.Now()) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(s.statusBody())
}

// statusBody caches the rendered status document so the property count
// isn't recomputed per request.
func (s *Server) statusBody() []byte {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	now := time.Now()
	if s.statusCached != nil && now.Sub(s.statusTime) < s.cfg.StatusCacheTTL {
		return s.statusCached
	}

	properties := 0
	if s.counter != nil {
		properties = len(s.counter.Properties())
	}
	body, err := json.Marshal(map[string]any{
		"status":       "callbridge running",
		"properties":   properties,
		"active_calls": s.tracker.Count(),
		"timestamp":    now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return []byte(`{"status":"callbridge running"}`)
	}
	s.statusCached = body
	s.statusTime = now
	return body
}

func (s *Server) handleIncomingCallInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "POST for telephony webhooks"})
}

// handleIncomingCall answers the telephony provider's call webhook with
// TwiML. With no backend key configured the caller goes to voicemail
// instead of a dead line.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	caller := strings.TrimSpace(r.PostFormValue("From"))
	s.logger.Info("incoming call", "caller", caller)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")

	if s.cfg.BackendAPIKey == "" || s.life.IsDraining() {
		s.logger.Warn("answering with voicemail", "draining", s.life.IsDraining())
		fmt.Fprint(w, voicemailTwiML())
		return
	}

	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	fmt.Fprint(w, connectStreamTwiML(host, caller))
}

func connectStreamTwiML(host, caller string) string {
	var param string
	if caller != "" {
		param = fmt.Sprintf("\n      <Parameter name=\"callerNumber\" value=\"%s\" />", xmlEscape(caller))
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="wss://%s/media-stream">%s
    </Stream>
  </Connect>
</Response>`, xmlEscape(host), param)
}

func voicemailTwiML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say voice="Polly.Joanna">Thank you for calling Petrona Realty. We're sorry, our system is temporarily unavailable. Please leave your name, number, and a brief message after the beep.</Say>
  <Record maxLength="120" transcribe="true" transcribeCallback="/voicemail-transcription" playBeep="true" />
  <Say voice="Polly.Joanna">Thank you. Goodbye!</Say>
</Response>`
}

func xmlEscape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

var mediaStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The telephony provider connects server-to-server without an Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if s.life.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	conn, err := mediaStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("media-stream upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	tele := session.NewWSTelephony(conn, s.cfg.WSWriteTimeout, s.cfg.WSPingInterval, s.logger.With("session_id", sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unregister := s.tracker.Register(sessionID, cancel)
	defer unregister()

	s.logger.Info("media stream accepted", "session_id", sessionID, "active", s.tracker.Count())
	if err := s.start(ctx, tele, sessionID); err != nil && ctx.Err() == nil {
		s.logger.Warn("session ended with error", "session_id", sessionID, "error", err)
	}
}

func (s *Server) handleVoicemailTranscription(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	text := r.PostFormValue("TranscriptionText")
	caller := r.PostFormValue("From")
	if caller == "" {
		caller = r.PostFormValue("Caller")
	}
	if caller == "" {
		caller = "Unknown"
	}
	recording := r.PostFormValue("RecordingUrl")
	s.logger.Info("voicemail transcription", "caller", caller)

	ctx := r.Context()
	if err := s.gateway.LogCall(ctx, crm.CallLog{
		Phone:    caller,
		Duration: "Voicemail",
		Type:     "Voicemail",
		Summary:  fmt.Sprintf("VOICEMAIL: %s | Recording: %s", text, recording),
		Outcome:  "Voicemail Left",
	}); err != nil {
		s.logger.Error("voicemail call log failed", "error", err)
	}
	if err := s.gateway.SaveLead(ctx, crm.Lead{
		Name:     "Voicemail Caller",
		Phone:    caller,
		Interest: "General",
		Notes:    "Voicemail: " + text,
		Status:   "New - Voicemail",
	}); err != nil {
		s.logger.Error("voicemail lead save failed", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

const whatsappReply = "Thank you for messaging Petrona Realty! We'll get back to you shortly. For immediate help, call +1 475 471 1996."

func (s *Server) handleIncomingWhatsApp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	phone := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	body := r.PostFormValue("Body")
	s.logger.Info("whatsapp message", "phone", phone)

	ctx := r.Context()
	if err := s.gateway.LogOutboundMedia(ctx, crm.MediaLog{
		Phone: phone, Direction: "inbound", CustomerMessage: body,
		MediaType: "text", Status: "received",
	}); err != nil {
		s.logger.Error("whatsapp inbound log failed", "error", err)
	}
	if err := s.gateway.LogOutboundMedia(ctx, crm.MediaLog{
		Phone: phone, Direction: "outbound", CustomerMessage: body,
		Reply: whatsappReply, MediaType: "text", Status: "sent",
	}); err != nil {
		s.logger.Error("whatsapp outbound log failed", "error", err)
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Response><Message>%s</Message></Response>`, xmlEscape(whatsappReply))
}
