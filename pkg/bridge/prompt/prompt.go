// Package prompt composes the agent instructions for a call: a persona
// loaded from YAML plus the live context (time of day, office status,
// current listings, FAQ and regional info).
package prompt

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrona-ai/callbridge/pkg/bridge/schedule"
	"github.com/petrona-ai/callbridge/pkg/crm"
)

// Persona is the static half of the instructions. Everything here is
// operator-editable without a redeploy.
type Persona struct {
	Name      string   `yaml:"name"`
	Company   string   `yaml:"company"`
	Region    string   `yaml:"region"`
	Greeting  string   `yaml:"greeting"`
	Rules     []string `yaml:"rules"`
	ToolRules []string `yaml:"tool_rules"`
	Reminder  string   `yaml:"reminder"`
}

// LoadPersona reads a persona YAML file. An empty path returns the
// built-in default persona.
func LoadPersona(path string) (Persona, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPersona(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	p := DefaultPersona()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return Persona{}, fmt.Errorf("persona name is required")
	}
	return p, nil
}

func DefaultPersona() Persona {
	return Persona{
		Name:     "Jade",
		Company:  "Petrona Real Estate",
		Region:   "Connecticut",
		Greeting: "Hey, thanks for calling Petrona! This is Jade. What can I do for you?",
		Rules: []string{
			"You are a real person on a live phone call. If anyone asks whether you're AI, laugh it off and stay in character.",
			"Be warm and friendly. Sound genuinely happy to hear from the caller.",
			"Keep every response to one sentence, two at most. Never a paragraph.",
			"Listen more than you talk. Say one short thing, then stop and let them answer.",
			"Never assume information the caller hasn't actually said. If unsure, ask again.",
			"If the caller starts talking while you are, stop immediately and respond to them.",
			"Use natural phone language: yeah, gonna, kinda. Never sound like a form.",
			"Ask for the caller's name first when they show interest, then their number, then a day and time. One question at a time.",
			"Visits happen between 9 AM and 6 PM Monday through Saturday. Sundays the office is closed but you can book for the week.",
			"Always confirm a visit back: so [day] at [time] to see [property], sound good?",
		},
		ToolRules: []string{
			"When you learn the caller's name, call save_lead immediately.",
			"When a visit is confirmed (name, day, time), call schedule_visit immediately. Never put visit details in save_lead notes.",
			"When they ask for photos or video, call send_property_media. Don't just promise to send them.",
			"Call tools as soon as you have the info, not at the end of the call.",
		},
		Reminder: "One sentence at a time. Be warm. Listen more. Never assume. Let them interrupt.",
	}
}

// CatalogSource is the read surface the builder pulls live data from.
// *listings.Cache satisfies it.
type CatalogSource interface {
	Properties() []crm.Property
	FAQs() []crm.FAQ
	RegionInfo() []crm.RegionInfo
}

type Builder struct {
	persona  Persona
	catalog  CatalogSource
	resolver *schedule.Resolver
	now      func() time.Time
}

func NewBuilder(persona Persona, catalog CatalogSource, resolver *schedule.Resolver) *Builder {
	return &Builder{persona: persona, catalog: catalog, resolver: resolver, now: time.Now}
}

// SetClock overrides the builder's time source.
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Build renders the full instruction text for a new call.
func (b *Builder) Build() string {
	ref := b.now()
	timeCtx := b.resolver.TimeContext(ref)
	biz := b.resolver.BusinessStatus(ref)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a real person who works at %s in %s. You are on a live phone call right now.\n\n",
		b.persona.Name, b.persona.Company, b.persona.Region)

	sb.WriteString("RULES:\n")
	for i, rule := range b.persona.Rules {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, rule)
	}

	fmt.Fprintf(&sb, "\nYOUR GREETING (say this when the call starts):\n%q\n", b.persona.Greeting)

	fmt.Fprintf(&sb, "\nRIGHT NOW: It's %s on %s.\nOffice: %s\n", timeCtx.TimeString, timeCtx.DateString, biz.Message)

	sb.WriteString("\nPROPERTIES AVAILABLE:\n")
	sb.WriteString(formatProperties(b.catalog.Properties()))

	sb.WriteString("\nFAQ ANSWERS:\n")
	sb.WriteString(formatFAQs(b.catalog.FAQs()))

	fmt.Fprintf(&sb, "\n%s INFO:\n", strings.ToUpper(b.persona.Region))
	sb.WriteString(formatRegionInfo(b.catalog.RegionInfo(), b.persona.Region))

	if b.persona.Reminder != "" {
		fmt.Fprintf(&sb, "\nREMEMBER: %s\n", b.persona.Reminder)
	}

	if len(b.persona.ToolRules) > 0 {
		sb.WriteString("\nTOOL USAGE RULES:\n")
		for _, rule := range b.persona.ToolRules {
			fmt.Fprintf(&sb, "- %s\n", rule)
		}
	}
	return sb.String()
}

func formatProperties(props []crm.Property) string {
	if len(props) == 0 {
		return "- No properties available. Apologize and offer to take their info for when new listings come in.\n"
	}
	var sb strings.Builder
	for _, p := range props {
		fmt.Fprintf(&sb, "- %s, %s (%s): %sBR/%sBA, %s/month\n", p.Address, p.City, p.Neighborhood, p.Bedrooms, p.Bathrooms, p.Price)
		if p.Features != "" {
			fmt.Fprintf(&sb, "  Features: %s\n", p.Features)
		}
		if p.Description != "" {
			fmt.Fprintf(&sb, "  Description: %s\n", p.Description)
		}
		if p.Security != "" {
			fmt.Fprintf(&sb, "  Security: %s\n", p.Security)
		}
	}
	return sb.String()
}

func formatFAQs(faqs []crm.FAQ) string {
	if len(faqs) == 0 {
		return "Answer general real estate questions naturally.\n"
	}
	var sb strings.Builder
	for _, f := range faqs {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n", f.Question, f.Answer)
	}
	return sb.String()
}

func formatRegionInfo(items []crm.RegionInfo, region string) string {
	if len(items) == 0 {
		return fmt.Sprintf("Use general %s knowledge.\n", region)
	}
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "%s: %s\n", item.Topic, item.Information)
	}
	return sb.String()
}
