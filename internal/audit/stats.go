package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/DukeRupert/reelstat/internal/storage"
)

// SummaryKey is where Refresh stores the latest summary.
const SummaryKey = "stats/summary.json"

const (
	DefaultSummaryDays = 30
	dayLayout          = "2006-01-02"
)

// Totals are event counts over some scope. Revenue is in kopecks and counts
// granted tariffs only.
type Totals struct {
	Messages        int   `json:"messages"`
	ProfileRequests int   `json:"profile_requests"`
	ProfileFailures int   `json:"profile_failures"`
	TariffsAssigned int   `json:"tariffs_assigned"`
	Revenue         int64 `json:"revenue"`
}

// SuccessfulRequests is the number of lookups that returned a profile.
func (t Totals) SuccessfulRequests() int {
	return t.ProfileRequests - t.ProfileFailures
}

type DayStats struct {
	Date string `json:"date"`
	Totals
}

type TariffStats struct {
	Assigned int   `json:"assigned"`
	Revenue  int64 `json:"revenue"`
}

type UserStats struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	Totals
}

// Summary aggregates audit events over an inclusive range of UTC days.
type Summary struct {
	From        string                  `json:"from"`
	To          string                  `json:"to"`
	GeneratedAt time.Time               `json:"generated_at"`
	Totals      Totals                  `json:"totals"`
	UniqueUsers int                     `json:"unique_users"`
	Days        []DayStats              `json:"days"`
	Tariffs     map[string]*TariffStats `json:"tariffs"`
	// Users is ordered by profile requests, most active first.
	Users []UserStats `json:"users"`
}

type summaryBuilder struct {
	totals  Totals
	days    map[string]*DayStats
	tariffs map[string]*TariffStats
	users   map[int64]*UserStats
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{
		days:    make(map[string]*DayStats),
		tariffs: make(map[string]*TariffStats),
		users:   make(map[int64]*UserStats),
	}
}

func (b *summaryBuilder) add(e Event) {
	date := e.At.UTC().Format(dayLayout)
	day, ok := b.days[date]
	if !ok {
		day = &DayStats{Date: date}
		b.days[date] = day
	}
	user, ok := b.users[e.UserID]
	if !ok {
		user = &UserStats{UserID: e.UserID}
		b.users[e.UserID] = user
	}
	if e.Username != "" {
		user.Username = e.Username
	}
	if e.At.After(user.LastSeen) {
		user.LastSeen = e.At
	}

	scopes := []*Totals{&b.totals, &day.Totals, &user.Totals}
	switch e.Type {
	case EventMessage:
		for _, t := range scopes {
			t.Messages++
		}
	case EventProfileRequest:
		failed := !dataBool(e.Data, "success")
		for _, t := range scopes {
			t.ProfileRequests++
			if failed {
				t.ProfileFailures++
			}
		}
	case EventTariffAssigned:
		price := dataInt(e.Data, "price")
		for _, t := range scopes {
			t.TariffsAssigned++
			t.Revenue += price
		}
		code, _ := e.Data["tariff"].(string)
		if code == "" {
			code = "unknown"
		}
		ts, ok := b.tariffs[code]
		if !ok {
			ts = &TariffStats{}
			b.tariffs[code] = ts
		}
		ts.Assigned++
		ts.Revenue += price
	}
}

func (b *summaryBuilder) build(from, to string, at time.Time) *Summary {
	s := &Summary{
		From:        from,
		To:          to,
		GeneratedAt: at,
		Totals:      b.totals,
		UniqueUsers: len(b.users),
		Days:        make([]DayStats, 0, len(b.days)),
		Tariffs:     b.tariffs,
		Users:       make([]UserStats, 0, len(b.users)),
	}
	for _, d := range b.days {
		s.Days = append(s.Days, *d)
	}
	sort.Slice(s.Days, func(i, j int) bool { return s.Days[i].Date < s.Days[j].Date })

	for _, u := range b.users {
		s.Users = append(s.Users, *u)
	}
	sort.Slice(s.Users, func(i, j int) bool {
		if s.Users[i].ProfileRequests != s.Users[j].ProfileRequests {
			return s.Users[i].ProfileRequests > s.Users[j].ProfileRequests
		}
		return s.Users[i].UserID < s.Users[j].UserID
	})
	return s
}

// dataBool and dataInt read values that went through a JSON round trip,
// where numbers arrive as float64.
func dataBool(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func dataInt(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// =============================================================================
// Reporter
// =============================================================================

// Reporter builds summaries from the events a StorageRecorder wrote.
type Reporter struct {
	blobs  storage.Storage
	days   int
	logger *slog.Logger
	now    func() time.Time
}

// NewReporter creates a Reporter whose Refresh covers the trailing days,
// today included.
func NewReporter(blobs storage.Storage, days int, logger *slog.Logger) *Reporter {
	if days <= 0 {
		days = DefaultSummaryDays
	}
	return &Reporter{
		blobs:  blobs,
		days:   days,
		logger: logger.With("component", "audit_reporter"),
		now:    time.Now,
	}
}

// Summarize reads every event between the UTC days of from and to,
// inclusive. Unreadable events are logged and skipped.
func (r *Reporter) Summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	first := truncateDay(from)
	last := truncateDay(to)
	if last.Before(first) {
		return nil, fmt.Errorf("summarize: range ends before it starts")
	}

	b := newSummaryBuilder()
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		keys, err := r.blobs.List(ctx, "audit/"+day.Format(dayLayout)+"/")
		if err != nil {
			return nil, fmt.Errorf("summarize: list %s: %w", day.Format(dayLayout), err)
		}
		for _, key := range keys {
			e, err := r.read(ctx, key)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				r.logger.Warn("Skipping unreadable audit event", "key", key, "error", err)
				continue
			}
			b.add(e)
		}
	}
	return b.build(first.Format(dayLayout), last.Format(dayLayout), r.now().UTC()), nil
}

// Refresh summarizes the trailing window and stores it at SummaryKey.
func (r *Reporter) Refresh(ctx context.Context) (*Summary, error) {
	now := r.now().UTC()
	s, err := r.Summarize(ctx, now.AddDate(0, 0, -(r.days-1)), now)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	if err := r.blobs.Put(ctx, SummaryKey, bytes.NewReader(data), storage.PutOptions{Overwrite: true}); err != nil {
		return nil, fmt.Errorf("store summary: %w", err)
	}
	return s, nil
}

// Latest returns the stored summary, building one if none exists yet.
func (r *Reporter) Latest(ctx context.Context) (*Summary, error) {
	rc, _, err := r.blobs.Get(ctx, SummaryKey)
	if errors.Is(err, storage.ErrNotFound) {
		return r.Refresh(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	defer rc.Close()

	var s Summary
	if err := json.NewDecoder(rc).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}

func (r *Reporter) read(ctx context.Context, key string) (Event, error) {
	rc, _, err := r.blobs.Get(ctx, key)
	if err != nil {
		return Event{}, err
	}
	defer rc.Close()

	var e Event
	if err := json.NewDecoder(rc).Decode(&e); err != nil {
		return Event{}, err
	}
	return e, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
