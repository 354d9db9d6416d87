// Package callstate holds the per-call mutable record: caller identity,
// incrementally enriched lead/visit fields, and a rolling transcript.
//
// A State has exactly one writer: the owning session's serialized
// event-processing path. It is deliberately not safe for concurrent use.
package callstate

import (
	"strings"

	"github.com/petrona-ai/callbridge/pkg/bridge/intent"
	"github.com/petrona-ai/callbridge/pkg/crm"
)

const (
	OutcomeVisitScheduled = "Visit Scheduled"
	OutcomeCompleted      = "Completed"

	DefaultMaxTranscriptChars = 2000
)

type State struct {
	CallSID      string
	StreamID     string
	CallerNumber string

	LeadSaved bool

	lead  crm.Lead
	visit crm.Visit

	transcript         strings.Builder
	maxTranscriptChars int

	classifier intent.Classifier
}

func New(classifier intent.Classifier, maxTranscriptChars int) *State {
	if maxTranscriptChars <= 0 {
		maxTranscriptChars = DefaultMaxTranscriptChars
	}
	return &State{
		lead:               crm.Lead{Status: "New"},
		maxTranscriptChars: maxTranscriptChars,
		classifier:         classifier,
	}
}

// MergeLead folds non-empty fields of partial into the lead record. Fields
// already set are only ever replaced by a newer non-empty value, never
// cleared.
func (s *State) MergeLead(partial crm.Lead) {
	mergeField(&s.lead.Name, partial.Name)
	mergeField(&s.lead.Phone, partial.Phone)
	mergeField(&s.lead.Email, partial.Email)
	mergeField(&s.lead.Interest, partial.Interest)
	mergeField(&s.lead.Property, partial.Property)
	mergeField(&s.lead.Budget, partial.Budget)
	mergeField(&s.lead.Notes, partial.Notes)
	mergeField(&s.lead.Status, partial.Status)
}

func (s *State) MergeVisit(partial crm.Visit) {
	mergeField(&s.visit.Name, partial.Name)
	mergeField(&s.visit.Phone, partial.Phone)
	mergeField(&s.visit.VisitDate, partial.VisitDate)
	mergeField(&s.visit.VisitTime, partial.VisitTime)
	mergeField(&s.visit.Property, partial.Property)
	mergeField(&s.visit.Address, partial.Address)
	mergeField(&s.visit.Notes, partial.Notes)
	mergeField(&s.visit.Status, partial.Status)
}

func (s *State) SetLeadStatus(status string) {
	if strings.TrimSpace(status) != "" {
		s.lead.Status = status
	}
}

func (s *State) SetVisitDate(date string) {
	if strings.TrimSpace(date) != "" {
		s.visit.VisitDate = date
	}
}

func (s *State) Lead() crm.Lead   { return s.lead }
func (s *State) Visit() crm.Visit { return s.visit }

// BestPhone prefers the lead's phone, falling back to caller ID.
func (s *State) BestPhone() string {
	if s.lead.Phone != "" {
		return s.lead.Phone
	}
	return s.CallerNumber
}

// AppendTranscript adds one "<speaker>: <text>" line, truncating once the
// serialized transcript reaches its cap so the eventual call-log row stays
// within downstream storage limits.
func (s *State) AppendTranscript(speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	remaining := s.maxTranscriptChars - s.transcript.Len()
	if remaining <= 0 {
		return
	}
	line := speaker + ": " + text + "\n"
	if len(line) > remaining {
		line = line[:remaining]
	}
	s.transcript.WriteString(line)
}

// ObserveCallerUtterance records a completed caller transcript fragment and
// re-runs intent inference on it (last match wins for the call).
func (s *State) ObserveCallerUtterance(text string) {
	s.AppendTranscript("Caller", text)
	if s.classifier == nil {
		return
	}
	if interest, ok := s.classifier.Classify(text); ok {
		s.lead.Interest = string(interest)
	}
}

func (s *State) ObserveAgentUtterance(text string) {
	s.AppendTranscript("Agent", text)
}

func (s *State) Transcript() string {
	return s.transcript.String()
}

// Outcome classifies how the call ended: a visit with a date means the
// scheduling flow completed.
func (s *State) Outcome() string {
	if strings.TrimSpace(s.visit.VisitDate) != "" {
		return OutcomeVisitScheduled
	}
	return OutcomeCompleted
}

// Snapshot is a read-only copy safe to hand to the flush path.
type Snapshot struct {
	CallSID      string
	StreamID     string
	CallerNumber string
	Lead         crm.Lead
	Visit        crm.Visit
	LeadSaved    bool
	Transcript   string
	Outcome      string
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		CallSID:      s.CallSID,
		StreamID:     s.StreamID,
		CallerNumber: s.CallerNumber,
		Lead:         s.lead,
		Visit:        s.visit,
		LeadSaved:    s.LeadSaved,
		Transcript:   s.Transcript(),
		Outcome:      s.Outcome(),
	}
}

func mergeField(dst *string, src string) {
	if strings.TrimSpace(src) != "" {
		*dst = src
	}
}
