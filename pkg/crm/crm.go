// Package crm defines the contract the call bridge uses to persist call
// outcomes. Implementations live behind these interfaces; every operation
// may fail independently and callers are expected to log-and-continue
// rather than surface persistence failures into a live call.
package crm

import (
	"context"
	"time"
)

// Lead is a prospective customer record, keyed loosely by name/phone.
type Lead struct {
	Name     string
	Phone    string
	Email    string
	Interest string
	Property string
	Budget   string
	Notes    string
	Status   string
}

// Visit is a scheduled in-person property viewing. VisitDate holds the
// resolved long-form date once persisted, the raw spoken phrase before.
type Visit struct {
	Name      string
	Phone     string
	VisitDate string
	VisitTime string
	Property  string
	Address   string
	Notes     string
	Status    string
}

type CallLog struct {
	Phone    string
	Duration string
	Type     string
	Summary  string
	Outcome  string
}

type CalendarEvent struct {
	ID       string
	Summary  string
	HTMLLink string
}

type MediaLog struct {
	Phone           string
	Direction       string
	CustomerMessage string
	Reply           string
	MediaType       string
	Property        string
	Status          string
}

type Property struct {
	Address      string
	City         string
	Bedrooms     string
	Bathrooms    string
	Price        string
	Neighborhood string
	Status       string
	Features     string
	Description  string
	Security     string
}

type FAQ struct {
	Category string
	Question string
	Answer   string
	Keywords string
	Priority string
}

type RegionInfo struct {
	Topic       string
	Information string
}

// Gateway is the append/update surface the bridge writes call outcomes to.
type Gateway interface {
	LogCall(ctx context.Context, entry CallLog) error
	SaveLead(ctx context.Context, lead Lead) error
	// UpdateLeadStatus updates the most recent lead row matching the name
	// or phone. It reports whether a row was found.
	UpdateLeadStatus(ctx context.Context, name, phone, status string) (bool, error)
	SaveVisit(ctx context.Context, visit Visit) error
	// FindScheduledVisit looks up an existing visit with status "scheduled"
	// by (normalized name, normalized property). Nil means no match.
	FindScheduledVisit(ctx context.Context, name, property string) (*Visit, error)
	LogCalendarEvent(ctx context.Context, event CalendarEvent, visit Visit) error
	LogOutboundMedia(ctx context.Context, entry MediaLog) error
}

// Catalog is the read side consumed by the listings cache.
type Catalog interface {
	ActiveProperties(ctx context.Context) ([]Property, error)
	FAQs(ctx context.Context) ([]FAQ, error)
	RegionInfo(ctx context.Context) ([]RegionInfo, error)
}

// Calendar creates events on an external calendar. Creation is best-effort:
// a nil event with nil error means the calendar is not configured.
type Calendar interface {
	CreateEvent(ctx context.Context, visit Visit, interest string, start, end time.Time) (*CalendarEvent, error)
}

// NoCalendar is the Calendar used when no external calendar is wired.
type NoCalendar struct{}

func (NoCalendar) CreateEvent(context.Context, Visit, string, time.Time, time.Time) (*CalendarEvent, error) {
	return nil, nil
}

// Disabled is the Gateway and Catalog used when no store is configured.
// Writes are dropped, reads come back empty, and the caller-facing flow
// keeps working on defaults.
type Disabled struct{}

func (Disabled) LogCall(context.Context, CallLog) error           { return nil }
func (Disabled) SaveLead(context.Context, Lead) error             { return nil }
func (Disabled) SaveVisit(context.Context, Visit) error           { return nil }
func (Disabled) LogOutboundMedia(context.Context, MediaLog) error { return nil }

func (Disabled) UpdateLeadStatus(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func (Disabled) FindScheduledVisit(context.Context, string, string) (*Visit, error) {
	return nil, nil
}

func (Disabled) LogCalendarEvent(context.Context, CalendarEvent, Visit) error { return nil }

func (Disabled) ActiveProperties(context.Context) ([]Property, error) { return nil, nil }
func (Disabled) FAQs(context.Context) ([]FAQ, error)                  { return nil, nil }
func (Disabled) RegionInfo(context.Context) ([]RegionInfo, error)     { return nil, nil }
