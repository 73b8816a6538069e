// Package incident implements the in-memory incident data plane backing the
// gateway's tools:  service logs, firing alerts, tickets, and outbound
// notifications.  The store is seeded with plausible data on boot so a
// fresh gateway is immediately usable.
package incident

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ParseSeverity validates a client-supplied severity string.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(s)) {
	case SeverityCritical:
		return SeverityCritical, nil
	case SeverityWarning:
		return SeverityWarning, nil
	case SeverityInfo:
		return SeverityInfo, nil
	}
	return "", fmt.Errorf("unknown severity: %q", s)
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

type Alert struct {
	ID       string    `json:"id"`
	Service  string    `json:"service"`
	Severity Severity  `json:"severity"`
	Summary  string    `json:"summary"`
	FiredAt  time.Time `json:"fired_at"`
	Acked    bool      `json:"acked"`
}

type Ticket struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

type Notification struct {
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Store holds all incident data behind a single lock.  Reads vastly
// outnumber writes here, so an RWMutex is enough.
type Store struct {
	mu      sync.RWMutex
	logs    []LogEntry
	alerts  []Alert
	tickets []Ticket
	notifs  []Notification

	clock func() time.Time
}

const (
	seedServices     = 4
	seedLogsPerSvc   = 25
	seedAlertsPerSvc = 2
)

var logTemplates = []struct {
	level  string
	format string
}{
	{"info", "request completed in %dms"},
	{"info", "healthcheck ok"},
	{"warn", "upstream latency above threshold: %dms"},
	{"error", "connection reset by peer after %dms"},
	{"error", "request failed with status 503 after %dms"},
}

// NewStore returns a store populated with generated services, log lines,
// and alerts.  The data shape is derived from the given seed.
func NewStore(seed int64) *Store {
	s := &Store{clock: time.Now}
	s.seed(seed)
	return s
}

func (s *Store) seed(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	now := s.clock().UTC()

	unique := map[string]bool{}
	for len(unique) < seedServices {
		unique[petname.Generate(2, "-")] = true
	}
	services := make([]string, 0, seedServices)
	for svc := range unique {
		services = append(services, svc)
	}
	sort.Strings(services)

	for _, svc := range services {
		for i := 0; i < seedLogsPerSvc; i++ {
			tpl := logTemplates[rng.Intn(len(logTemplates))]
			s.logs = append(s.logs, LogEntry{
				Timestamp: now.Add(-time.Duration(rng.Intn(3600)) * time.Second),
				Service:   svc,
				Level:     tpl.level,
				Message:   fmt.Sprintf(tpl.format, 10+rng.Intn(4990)),
			})
		}
		for i := 0; i < seedAlertsPerSvc; i++ {
			sev := SeverityWarning
			if rng.Intn(2) == 0 {
				sev = SeverityCritical
			}
			s.alerts = append(s.alerts, Alert{
				ID:       ulid.MustNew(ulid.Timestamp(now), rng).String(),
				Service:  svc,
				Severity: sev,
				Summary:  fmt.Sprintf("%s error rate above threshold", svc),
				FiredAt:  now.Add(-time.Duration(rng.Intn(1800)) * time.Second),
			})
		}
	}

	sort.Slice(s.logs, func(i, j int) bool {
		return s.logs[i].Timestamp.Before(s.logs[j].Timestamp)
	})
}

// Services lists every service the store has data for, sorted.
func (s *Store) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	for _, l := range s.logs {
		seen[l.Service] = true
	}
	out := make([]string, 0, len(seen))
	for svc := range seen {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

type LogQuery struct {
	// Service filters to a single service when non-empty.
	Service string
	// Level filters to a single level when non-empty.
	Level string
	// Limit caps the number of entries returned, newest first.  Zero means
	// no cap.
	Limit int
}

// QueryLogs returns matching log entries, newest first.
func (s *Store) QueryLogs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []LogEntry{}
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if q.Service != "" && l.Service != q.Service {
			continue
		}
		if q.Level != "" && l.Level != q.Level {
			continue
		}
		out = append(out, l)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// ListAlerts returns firing alerts, optionally filtered by severity,
// ordered most recent first.
func (s *Store) ListAlerts(ctx context.Context, severity Severity) ([]Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Alert{}
	for _, a := range s.alerts {
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FiredAt.After(out[j].FiredAt)
	})
	return out, nil
}

// AckAlert marks the alert as acknowledged.
func (s *Store) AckAlert(ctx context.Context, id string) (Alert, error) {
	if err := ctx.Err(); err != nil {
		return Alert{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Acked = true
			return s.alerts[i], nil
		}
	}
	return Alert{}, fmt.Errorf("alert not found: %s", id)
}

// CreateTicket records a new ticket and returns it with its assigned ID.
func (s *Store) CreateTicket(ctx context.Context, title, body string, sev Severity) (Ticket, error) {
	if err := ctx.Err(); err != nil {
		return Ticket{}, err
	}
	if title == "" {
		return Ticket{}, fmt.Errorf("ticket title is required")
	}

	t := Ticket{
		ID:        ulid.Make().String(),
		Title:     title,
		Body:      body,
		Severity:  sev,
		CreatedAt: s.clock().UTC(),
	}

	s.mu.Lock()
	s.tickets = append(s.tickets, t)
	s.mu.Unlock()
	return t, nil
}

// Tickets returns all tickets created so far, oldest first.
func (s *Store) Tickets() []Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ticket, len(s.tickets))
	copy(out, s.tickets)
	return out
}

// SendNotification records an outbound notification.  Delivery is in-memory
// only;  there is no external pager here.
func (s *Store) SendNotification(ctx context.Context, channel, message string) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	if channel == "" {
		return Notification{}, fmt.Errorf("notification channel is required")
	}

	n := Notification{
		ID:      uuid.New().String(),
		Channel: channel,
		Message: message,
		SentAt:  s.clock().UTC(),
	}

	s.mu.Lock()
	s.notifs = append(s.notifs, n)
	s.mu.Unlock()
	return n, nil
}

// Notifications returns all notifications sent so far, oldest first.
func (s *Store) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, len(s.notifs))
	copy(out, s.notifs)
	return out
}
