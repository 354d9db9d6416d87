// Package tools executes the function calls the conversational agent is
// allowed to make mid-call: saving leads, scheduling visits, sending
// property media, and answering business-hours questions. Every dispatch
// returns a JSON-serializable payload for the function_call_output; tool
// failures are reported to the agent, never surfaced as session errors.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/petrona-ai/callbridge/pkg/bridge/callstate"
	"github.com/petrona-ai/callbridge/pkg/bridge/protocol"
	"github.com/petrona-ai/callbridge/pkg/bridge/schedule"
	"github.com/petrona-ai/callbridge/pkg/crm"
)

const (
	ToolSaveLead           = "save_lead"
	ToolScheduleVisit      = "schedule_visit"
	ToolSendPropertyMedia  = "send_property_media"
	ToolCheckBusinessHours = "check_business_hours"
)

type Dispatcher struct {
	gateway  crm.Gateway
	calendar crm.Calendar
	resolver *schedule.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(gateway crm.Gateway, calendar crm.Calendar, resolver *schedule.Resolver, logger *slog.Logger) *Dispatcher {
	if calendar == nil {
		calendar = crm.NoCalendar{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		gateway:  gateway,
		calendar: calendar,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the dispatcher's time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Dispatch runs one tool call against the call's state. The return value
// is always a payload the agent can relay; persistence failures come back
// as {success:false} results.
func (d *Dispatcher) Dispatch(ctx context.Context, state *callstate.State, call protocol.ToolCall) any {
	args, err := decodeArgs(call.Arguments)
	if err != nil {
		d.logger.Warn("tool arguments unreadable", "tool", call.Name, "error", err)
		return failure("invalid tool arguments")
	}

	switch call.Name {
	case ToolSaveLead:
		return d.saveLead(ctx, state, args)
	case ToolScheduleVisit:
		return d.scheduleVisit(ctx, state, args)
	case ToolSendPropertyMedia:
		return d.sendPropertyMedia(ctx, state, args)
	case ToolCheckBusinessHours:
		return d.checkBusinessHours()
	default:
		d.logger.Warn("unknown tool requested", "tool", call.Name)
		return failure(fmt.Sprintf("unknown tool %q", call.Name))
	}
}

type result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failure(msg string) result {
	return result{Success: false, Error: msg}
}

type toolArgs struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Interest  string `json:"interest"`
	Property  string `json:"property"`
	Budget    string `json:"budget"`
	Notes     string `json:"notes"`
	Day       string `json:"day"`
	Time      string `json:"time"`
	MediaType string `json:"media_type"`
}

// decodeArgs tolerates both a JSON object and the object double-encoded as
// a JSON string, which is how realtime backends deliver arguments.
func decodeArgs(raw json.RawMessage) (toolArgs, error) {
	var args toolArgs
	if len(raw) == 0 {
		return args, nil
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		if strings.TrimSpace(inner) == "" {
			return args, nil
		}
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, err
	}
	return args, nil
}

func (d *Dispatcher) saveLead(ctx context.Context, state *callstate.State, args toolArgs) any {
	if args.Phone == "" {
		args.Phone = state.CallerNumber
	}
	state.MergeLead(crm.Lead{
		Name:     args.Name,
		Phone:    args.Phone,
		Email:    args.Email,
		Interest: args.Interest,
		Property: args.Property,
		Budget:   args.Budget,
		Notes:    args.Notes,
	})

	// Persistence failures degrade silently: the agent is told the lead
	// was saved so the conversation never stalls on a store hiccup.
	lead := state.Lead()
	if err := d.gateway.SaveLead(ctx, lead); err != nil {
		d.logger.Error("save lead failed", "name", lead.Name, "error", err)
	} else {
		d.logger.Info("lead saved", "name", lead.Name, "interest", lead.Interest)
	}
	state.LeadSaved = true
	return result{Success: true, Message: "Lead saved."}
}

type scheduleResult struct {
	result
	VisitDate   string `json:"visit_date,omitempty"`
	VisitTime   string `json:"visit_time,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

const duplicateVisitInstruction = "Tell the caller they already have a visit scheduled for this property. Ask if they want to change the time or see a different property."

func (d *Dispatcher) scheduleVisit(ctx context.Context, state *callstate.State, args toolArgs) any {
	if args.Name == "" {
		args.Name = state.Lead().Name
	}
	if args.Phone == "" {
		args.Phone = state.BestPhone()
	}
	if strings.TrimSpace(args.Name) == "" || strings.TrimSpace(args.Property) == "" {
		return failure("name and property are required to schedule a visit")
	}

	start, end := d.resolver.ResolveVisit(args.Day, args.Time, d.now())
	visitDate := schedule.FormatLongDate(start)
	visitTime := start.Format("3:04 PM")

	// A caller re-asking for the same property keeps their existing slot,
	// whatever date it was booked for. A failed lookup never blocks the
	// booking; it is treated as no duplicate.
	existing, err := d.gateway.FindScheduledVisit(ctx, args.Name, args.Property)
	if err != nil {
		d.logger.Error("visit lookup failed", "name", args.Name, "error", err)
		existing = nil
	}
	if existing != nil {
		d.logger.Info("visit already scheduled", "name", args.Name, "property", args.Property, "date", existing.VisitDate)
		return scheduleResult{
			result:      result{Success: false, Message: fmt.Sprintf("Already has a visit for %s on %s at %s.", existing.Property, existing.VisitDate, existing.VisitTime)},
			VisitDate:   existing.VisitDate,
			VisitTime:   existing.VisitTime,
			Duplicate:   true,
			Instruction: duplicateVisitInstruction,
		}
	}

	visit := crm.Visit{
		Name:      args.Name,
		Phone:     args.Phone,
		VisitDate: visitDate,
		VisitTime: visitTime,
		Property:  args.Property,
		Address:   args.Property,
		Status:    "scheduled",
	}
	if err := d.gateway.SaveVisit(ctx, visit); err != nil {
		d.logger.Error("save visit failed", "name", args.Name, "error", err)
		return failure("could not schedule the visit right now")
	}

	state.MergeVisit(visit)
	state.SetVisitDate(visitDate)
	state.SetLeadStatus(callstate.OutcomeVisitScheduled)
	if found, err := d.gateway.UpdateLeadStatus(ctx, args.Name, args.Phone, callstate.OutcomeVisitScheduled); err != nil {
		d.logger.Warn("lead status update failed", "name", args.Name, "error", err)
	} else if !found {
		d.logger.Info("no lead row to update", "name", args.Name)
	}

	// Calendar is best-effort: the visit row is the source of truth.
	if ev, err := d.calendar.CreateEvent(ctx, visit, state.Lead().Interest, start, end); err != nil {
		d.logger.Warn("calendar event failed", "name", args.Name, "error", err)
	} else if ev != nil {
		if err := d.gateway.LogCalendarEvent(ctx, *ev, visit); err != nil {
			d.logger.Warn("calendar log failed", "event_id", ev.ID, "error", err)
		}
	}

	d.logger.Info("visit scheduled", "name", args.Name, "property", args.Property, "date", visitDate, "time", visitTime)
	return scheduleResult{
		result:    result{Success: true, Message: fmt.Sprintf("Visit to %s scheduled for %s at %s.", args.Property, visitDate, visitTime)},
		VisitDate: visitDate,
		VisitTime: visitTime,
	}
}

func (d *Dispatcher) sendPropertyMedia(ctx context.Context, state *callstate.State, args toolArgs) any {
	if args.Phone == "" {
		args.Phone = state.BestPhone()
	}
	if strings.TrimSpace(args.Phone) == "" {
		return failure("a phone number is needed to send media")
	}
	mediaType := args.MediaType
	if mediaType == "" {
		mediaType = "photos"
	}

	entry := crm.MediaLog{
		Phone:     args.Phone,
		Direction: "outbound",
		Reply:     fmt.Sprintf("Sent %s of %s", mediaType, args.Property),
		MediaType: mediaType,
		Property:  args.Property,
		Status:    "queued",
	}
	if err := d.gateway.LogOutboundMedia(ctx, entry); err != nil {
		d.logger.Error("media log failed", "phone", args.Phone, "error", err)
		return failure("could not queue the media right now")
	}
	d.logger.Info("property media queued", "phone", args.Phone, "property", args.Property, "media_type", mediaType)
	return result{Success: true, Message: fmt.Sprintf("I'll send you the %s of %s by WhatsApp.", mediaType, args.Property)}
}

type hoursResult struct {
	result
	Open        bool              `json:"open"`
	CurrentTime string            `json:"current_time"`
	CurrentDay  string            `json:"current_day"`
	Hours       map[string]string `json:"hours"`
}

func (d *Dispatcher) checkBusinessHours() any {
	st := d.resolver.BusinessStatus(d.now())
	return hoursResult{
		result:      result{Success: true, Message: st.Message},
		Open:        st.Open,
		CurrentTime: st.CurrentTime,
		CurrentDay:  st.CurrentDay,
		Hours:       schedule.HoursTable(),
	}
}

// Definitions lists the tools advertised to the backend in session.update.
func Definitions() []protocol.ToolDefinition {
	return []protocol.ToolDefinition{
		{
			Type:        "function",
			Name:        ToolSaveLead,
			Description: "Save the caller's contact details and interest as a lead. Call as soon as you have a name.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Caller's full name"},
					"phone": {"type": "string", "description": "Contact phone, defaults to caller ID"},
					"email": {"type": "string"},
					"interest": {"type": "string", "enum": ["Rental", "Purchase", "Selling", "Maintenance"]},
					"property": {"type": "string", "description": "Property the caller asked about"},
					"budget": {"type": "string"},
					"notes": {"type": "string"}
				},
				"required": ["name"]
			}`),
		},
		{
			Type:        "function",
			Name:        ToolScheduleVisit,
			Description: "Schedule an in-person property visit once the caller agrees on a day and time.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"phone": {"type": "string"},
					"property": {"type": "string", "description": "Property address to visit"},
					"day": {"type": "string", "description": "Spoken day, e.g. tomorrow, Saturday"},
					"time": {"type": "string", "description": "Spoken time, e.g. 11, 2:30 pm"}
				},
				"required": ["name", "property", "day"]
			}`),
		},
		{
			Type:        "function",
			Name:        ToolSendPropertyMedia,
			Description: "Send property photos or video to the caller's WhatsApp.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"phone": {"type": "string"},
					"property": {"type": "string"},
					"media_type": {"type": "string", "enum": ["photos", "video", "both"]}
				},
				"required": ["property"]
			}`),
		},
		{
			Type:        "function",
			Name:        ToolCheckBusinessHours,
			Description: "Check whether the office is currently open and report the opening hours.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}
