// Package postgres implements the CRM gateway and catalog on PostgreSQL.
// Schema management is embedded goose migrations applied at startup.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/petrona-ai/callbridge/pkg/crm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool *pgxpool.Pool
}

// Open connects, verifies the connection, and applies pending migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports database reachability for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) LogCall(ctx context.Context, entry crm.CallLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_logs (id, phone, duration, call_type, summary, outcome)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), entry.Phone, entry.Duration, entry.Type, entry.Summary, entry.Outcome)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

func (s *Store) SaveLead(ctx context.Context, lead crm.Lead) error {
	status := lead.Status
	if status == "" {
		status = "New"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leads (id, name, phone, email, interest, property, budget, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), lead.Name, lead.Phone, lead.Email, lead.Interest, lead.Property, lead.Budget, lead.Notes, status)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (s *Store) UpdateLeadStatus(ctx context.Context, name, phone, status string) (bool, error) {
	// Matches the most recent lead row by name or phone; older duplicates
	// are left alone.
	tag, err := s.pool.Exec(ctx, `
		UPDATE leads SET status = $3
		WHERE id = (
			SELECT id FROM leads
			WHERE (lower(name) = lower(trim($1)) AND trim($1) <> '')
			   OR (phone = trim($2) AND trim($2) <> '')
			ORDER BY created_at DESC
			LIMIT 1
		)`,
		name, phone, status)
	if err != nil {
		return false, fmt.Errorf("update lead status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SaveVisit(ctx context.Context, visit crm.Visit) error {
	status := visit.Status
	if status == "" {
		status = "scheduled"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO visits (id, name, phone, visit_date, visit_time, property, address, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), visit.Name, visit.Phone, visit.VisitDate, visit.VisitTime, visit.Property, visit.Address, visit.Notes, status)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (s *Store) FindScheduledVisit(ctx context.Context, name, property string) (*crm.Visit, error) {
	// The lookup is date-insensitive: one scheduled visit per person and
	// property, whatever day it was booked for.
	row := s.pool.QueryRow(ctx, `
		SELECT name, phone, visit_date, visit_time, property, address, notes, status
		FROM visits
		WHERE lower(trim(name)) = lower(trim($1))
		  AND lower(trim(property)) = lower(trim($2))
		  AND lower(status) = 'scheduled'
		ORDER BY created_at DESC
		LIMIT 1`,
		name, property)

	var v crm.Visit
	err := row.Scan(&v.Name, &v.Phone, &v.VisitDate, &v.VisitTime, &v.Property, &v.Address, &v.Notes, &v.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find scheduled visit: %w", err)
	}
	return &v, nil
}

func (s *Store) LogCalendarEvent(ctx context.Context, event crm.CalendarEvent, visit crm.Visit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_events (id, event_id, summary, html_link, visit_name, visit_property, visit_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), event.ID, event.Summary, event.HTMLLink, visit.Name, visit.Property, visit.VisitDate)
	if err != nil {
		return fmt.Errorf("insert calendar event: %w", err)
	}
	return nil
}

func (s *Store) LogOutboundMedia(ctx context.Context, entry crm.MediaLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO media_logs (id, phone, direction, customer_message, reply, media_type, property, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), entry.Phone, entry.Direction, entry.CustomerMessage, entry.Reply, entry.MediaType, entry.Property, entry.Status)
	if err != nil {
		return fmt.Errorf("insert media log: %w", err)
	}
	return nil
}

func (s *Store) ActiveProperties(ctx context.Context) ([]crm.Property, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, city, bedrooms, bathrooms, price, neighborhood, status, features, description, security_deposit
		FROM properties
		WHERE lower(status) = 'active' AND trim(address) <> ''
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	var out []crm.Property
	for rows.Next() {
		var p crm.Property
		if err := rows.Scan(&p.Address, &p.City, &p.Bedrooms, &p.Bathrooms, &p.Price, &p.Neighborhood, &p.Status, &p.Features, &p.Description, &p.Security); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return out, nil
}

func (s *Store) FAQs(ctx context.Context) ([]crm.FAQ, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, question, answer, keywords, priority
		FROM faqs
		ORDER BY priority, created_at`)
	if err != nil {
		return nil, fmt.Errorf("query faqs: %w", err)
	}
	defer rows.Close()

	var out []crm.FAQ
	for rows.Next() {
		var f crm.FAQ
		if err := rows.Scan(&f.Category, &f.Question, &f.Answer, &f.Keywords, &f.Priority); err != nil {
			return nil, fmt.Errorf("scan faq: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faqs: %w", err)
	}
	return out, nil
}

func (s *Store) RegionInfo(ctx context.Context) ([]crm.RegionInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT topic, information
		FROM region_info
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query region info: %w", err)
	}
	defer rows.Close()

	var out []crm.RegionInfo
	for rows.Next() {
		var r crm.RegionInfo
		if err := rows.Scan(&r.Topic, &r.Information); err != nil {
			return nil, fmt.Errorf("scan region info: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate region info: %w", err)
	}
	return out, nil
}
