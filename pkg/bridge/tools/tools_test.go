package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/petrona-ai/callbridge/pkg/bridge/callstate"
	"github.com/petrona-ai/callbridge/pkg/bridge/intent"
	"github.com/petrona-ai/callbridge/pkg/bridge/protocol"
	"github.com/petrona-ai/callbridge/pkg/bridge/schedule"
	"github.com/petrona-ai/callbridge/pkg/crm"
)

type fakeGateway struct {
	leads          []crm.Lead
	visits         []crm.Visit
	statusUpdates  []string
	mediaLogs      []crm.MediaLog
	calendarLogs   []crm.CalendarEvent
	existingVisit  *crm.Visit
	saveLeadErr    error
	saveVisitErr   error
	findVisitErr   error
	statusFound    bool
	mediaErr       error
	calendarLogErr error
}

func (g *fakeGateway) LogCall(ctx context.Context, entry crm.CallLog) error { return nil }

func (g *fakeGateway) SaveLead(ctx context.Context, lead crm.Lead) error {
	if g.saveLeadErr != nil {
		return g.saveLeadErr
	}
	g.leads = append(g.leads, lead)
	return nil
}

func (g *fakeGateway) UpdateLeadStatus(ctx context.Context, name, phone, status string) (bool, error) {
	g.statusUpdates = append(g.statusUpdates, name+"/"+status)
	return g.statusFound, nil
}

func (g *fakeGateway) SaveVisit(ctx context.Context, visit crm.Visit) error {
	if g.saveVisitErr != nil {
		return g.saveVisitErr
	}
	g.visits = append(g.visits, visit)
	return nil
}

func (g *fakeGateway) FindScheduledVisit(ctx context.Context, name, property string) (*crm.Visit, error) {
	if g.findVisitErr != nil {
		return nil, g.findVisitErr
	}
	return g.existingVisit, nil
}

func (g *fakeGateway) LogCalendarEvent(ctx context.Context, event crm.CalendarEvent, visit crm.Visit) error {
	if g.calendarLogErr != nil {
		return g.calendarLogErr
	}
	g.calendarLogs = append(g.calendarLogs, event)
	return nil
}

func (g *fakeGateway) LogOutboundMedia(ctx context.Context, entry crm.MediaLog) error {
	if g.mediaErr != nil {
		return g.mediaErr
	}
	g.mediaLogs = append(g.mediaLogs, entry)
	return nil
}

type fakeCalendar struct {
	event *crm.CalendarEvent
	err   error
	calls int
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, visit crm.Visit, interest string, start, end time.Time) (*crm.CalendarEvent, error) {
	c.calls++
	return c.event, c.err
}

func newTestDispatcher(t *testing.T, gw *fakeGateway, cal crm.Calendar) (*Dispatcher, *callstate.State) {
	t.Helper()
	resolver, err := schedule.NewResolver("America/New_York")
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	d := NewDispatcher(gw, cal, resolver, slog.New(slog.DiscardHandler))
	// Wednesday June 3, 2026 at 2 PM local.
	d.SetClock(func() time.Time {
		return time.Date(2026, 6, 3, 14, 0, 0, 0, resolver.Location())
	})
	state := callstate.New(intent.NewKeywordClassifier(), 0)
	state.CallerNumber = "+15550001111"
	return d, state
}

func toolCall(t *testing.T, name string, args map[string]any) protocol.ToolCall {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return protocol.ToolCall{CallID: "call_1", Name: name, Arguments: raw}
}

func TestSaveLeadPersistsAndMarksState(t *testing.T) {
	gw := &fakeGateway{}
	d, state := newTestDispatcher(t, gw, nil)

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolSaveLead, map[string]any{
		"name":     "Dana",
		"interest": "Rental",
		"property": "213 Ely Ave",
	}))
	res := out.(result)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(gw.leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(gw.leads))
	}
	lead := gw.leads[0]
	if lead.Name != "Dana" || lead.Interest != "Rental" {
		t.Fatalf("unexpected lead: %+v", lead)
	}
	if lead.Phone != "+15550001111" {
		t.Fatalf("expected caller-id fallback, got %q", lead.Phone)
	}
	if !state.LeadSaved {
		t.Fatal("state not marked lead-saved")
	}
}

func TestSaveLeadFailureDegradesSilently(t *testing.T) {
	gw := &fakeGateway{saveLeadErr: errors.New("store down")}
	d, state := newTestDispatcher(t, gw, nil)

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolSaveLead, map[string]any{"name": "Dana"}))
	res := out.(result)
	// A store hiccup never reaches the conversation: the agent still gets
	// the success acknowledgment.
	if !res.Success || res.Error != "" {
		t.Fatalf("expected success-shaped result, got %+v", res)
	}
	if !state.LeadSaved {
		t.Fatal("state must still be marked lead-saved")
	}
	if state.Lead().Name != "Dana" {
		t.Fatalf("lead fields not merged: %+v", state.Lead())
	}
}

func TestScheduleVisitResolvesSaturdayEleven(t *testing.T) {
	gw := &fakeGateway{statusFound: true}
	cal := &fakeCalendar{event: &crm.CalendarEvent{ID: "ev1", Summary: "Visit"}}
	d, state := newTestDispatcher(t, gw, cal)

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolScheduleVisit, map[string]any{
		"name":     "Dana",
		"property": "213 Ely Ave",
		"day":      "Saturday",
		"time":     "11",
	}))
	res := out.(scheduleResult)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	// Wednesday June 3 + Saturday = June 6, 11:00 AM.
	if res.VisitDate != "Saturday, June 6, 2026" {
		t.Fatalf("unexpected visit date %q", res.VisitDate)
	}
	if res.VisitTime != "11:00 AM" {
		t.Fatalf("unexpected visit time %q", res.VisitTime)
	}
	if len(gw.visits) != 1 || gw.visits[0].Status != "scheduled" {
		t.Fatalf("unexpected visits: %+v", gw.visits)
	}
	if len(gw.statusUpdates) != 1 || gw.statusUpdates[0] != "Dana/Visit Scheduled" {
		t.Fatalf("unexpected status updates: %v", gw.statusUpdates)
	}
	if cal.calls != 1 || len(gw.calendarLogs) != 1 {
		t.Fatalf("calendar not exercised: calls=%d logs=%d", cal.calls, len(gw.calendarLogs))
	}
	if state.Outcome() != callstate.OutcomeVisitScheduled {
		t.Fatalf("unexpected outcome %q", state.Outcome())
	}
}

func TestScheduleVisitDuplicateKeepsExistingSlot(t *testing.T) {
	gw := &fakeGateway{existingVisit: &crm.Visit{
		Name:      "Dana",
		Property:  "213 Ely Ave",
		VisitDate: "Monday, June 8, 2026",
		VisitTime: "10:00 AM",
		Status:    "scheduled",
	}}
	d, state := newTestDispatcher(t, gw, nil)

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolScheduleVisit, map[string]any{
		"name":     "Dana",
		"property": "213 Ely Ave",
		"day":      "Friday",
		"time":     "3 pm",
	}))
	res := out.(scheduleResult)
	// The booking did not happen: the agent gets duplicate=true with the
	// conflicting slot and renegotiation guidance.
	if res.Success || !res.Duplicate {
		t.Fatalf("expected duplicate result, got %+v", res)
	}
	if res.Instruction == "" {
		t.Fatal("duplicate result missing renegotiation instruction")
	}
	if res.VisitDate != "Monday, June 8, 2026" || res.VisitTime != "10:00 AM" {
		t.Fatalf("expected existing slot, got %q %q", res.VisitDate, res.VisitTime)
	}
	if len(gw.visits) != 0 {
		t.Fatalf("duplicate must not write a new visit, got %+v", gw.visits)
	}
}

func TestScheduleVisitBackfillsNameFromLead(t *testing.T) {
	gw := &fakeGateway{}
	d, state := newTestDispatcher(t, gw, nil)
	state.MergeLead(crm.Lead{Name: "Dana"})

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolScheduleVisit, map[string]any{
		"property": "213 Ely Ave",
		"day":      "Saturday",
		"time":     "11",
	}))
	res := out.(scheduleResult)
	if !res.Success {
		t.Fatalf("expected backfilled name to schedule, got %+v", res)
	}
	if len(gw.visits) != 1 || gw.visits[0].Name != "Dana" {
		t.Fatalf("unexpected visits: %+v", gw.visits)
	}
}

func TestScheduleVisitLookupFailureStillBooks(t *testing.T) {
	gw := &fakeGateway{findVisitErr: errors.New("store down")}
	d, state := newTestDispatcher(t, gw, nil)

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolScheduleVisit, map[string]any{
		"name":     "Dana",
		"property": "213 Ely Ave",
		"day":      "Saturday",
	}))
	res := out.(scheduleResult)
	// A broken duplicate lookup is treated as no duplicate, never as a
	// reason to refuse the booking.
	if !res.Success || res.Duplicate {
		t.Fatalf("lookup failure must not block the booking: %+v", res)
	}
	if len(gw.visits) != 1 {
		t.Fatalf("visit not saved, got %d", len(gw.visits))
	}
}

func TestScheduleVisitCalendarFailureStillSucceeds(t *testing.T) {
	gw := &fakeGateway{}
	cal := &fakeCalendar{err: errors.New("calendar unreachable")}
	d, state := newTestDispatcher(t, gw, cal)

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolScheduleVisit, map[string]any{
		"name":     "Dana",
		"property": "213 Ely Ave",
		"day":      "tomorrow",
	}))
	res := out.(scheduleResult)
	if !res.Success {
		t.Fatalf("calendar failure must not fail the visit: %+v", res)
	}
	// Default time slot.
	if res.VisitTime != "10:00 AM" {
		t.Fatalf("unexpected default time %q", res.VisitTime)
	}
	if len(gw.visits) != 1 {
		t.Fatalf("visit not saved")
	}
}

func TestSendPropertyMediaLogsOutbound(t *testing.T) {
	gw := &fakeGateway{}
	d, state := newTestDispatcher(t, gw, nil)

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolSendPropertyMedia, map[string]any{
		"property":   "213 Ely Ave",
		"media_type": "video",
	}))
	res := out.(result)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(gw.mediaLogs) != 1 {
		t.Fatalf("expected 1 media log, got %d", len(gw.mediaLogs))
	}
	entry := gw.mediaLogs[0]
	if entry.Phone != "+15550001111" || entry.MediaType != "video" || entry.Direction != "outbound" {
		t.Fatalf("unexpected media log: %+v", entry)
	}
}

func TestCheckBusinessHoursWednesdayAfternoon(t *testing.T) {
	d, state := newTestDispatcher(t, &fakeGateway{}, nil)

	out := d.Dispatch(context.Background(), state, toolCall(t, ToolCheckBusinessHours, nil))
	res := out.(hoursResult)
	if !res.Success || !res.Open {
		t.Fatalf("expected open office, got %+v", res)
	}
	if res.CurrentDay != "Wednesday" {
		t.Fatalf("unexpected day %q", res.CurrentDay)
	}
	if res.Hours["sunday"] != "Closed" {
		t.Fatalf("unexpected hours table: %v", res.Hours)
	}
}

func TestUnknownToolFails(t *testing.T) {
	d, state := newTestDispatcher(t, &fakeGateway{}, nil)
	out := d.Dispatch(context.Background(), state, toolCall(t, "transfer_call", nil))
	res := out.(result)
	if res.Success {
		t.Fatalf("expected failure for unknown tool, got %+v", res)
	}
}

func TestDoubleEncodedArguments(t *testing.T) {
	d, state := newTestDispatcher(t, &fakeGateway{}, nil)

	inner, _ := json.Marshal(map[string]any{"name": "Dana"})
	raw, _ := json.Marshal(string(inner))
	out := d.Dispatch(context.Background(), state, protocol.ToolCall{Name: ToolSaveLead, Arguments: raw})
	res := out.(result)
	if !res.Success {
		t.Fatalf("double-encoded arguments rejected: %+v", res)
	}
}

func TestDefinitionsCoverAllTools(t *testing.T) {
	defs := Definitions()
	want := map[string]bool{
		ToolSaveLead:           false,
		ToolScheduleVisit:      false,
		ToolSendPropertyMedia:  false,
		ToolCheckBusinessHours: false,
	}
	for _, def := range defs {
		if def.Type != "function" {
			t.Fatalf("unexpected tool type %q", def.Type)
		}
		var schema map[string]any
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			t.Fatalf("tool %s has invalid schema: %v", def.Name, err)
		}
		want[def.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("tool %s missing from definitions", name)
		}
	}
}
