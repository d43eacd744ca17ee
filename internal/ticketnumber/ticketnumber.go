// Package ticketnumber allocates per-agency, per-day ticket serials of the form
// A<initials><yymmdd><NN>.
package ticketnumber

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

const dateLayout = "060102"

// CounterStore increments named counters atomically. Implementations live in the
// repository (JSON file) and infra/redis packages.
type CounterStore interface {
	Increment(ctx context.Context, key string) (int64, error)
	Counters(ctx context.Context) (map[string]int64, error)
}

type Stats struct {
	TotalTickets   int64 `json:"total_tickets_generated"`
	TodaysTickets  int64 `json:"todays_tickets"`
	UniqueCounters int   `json:"unique_agency_date_combinations"`
}

type Allocator struct {
	store  CounterStore
	logger *zap.Logger
	now    func() time.Time
}

func NewAllocator(store CounterStore, logger *zap.Logger) (*Allocator, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{store: store, logger: logger, now: time.Now}, nil
}

// Next allocates the next serial for agencyName on the current day.
func (a *Allocator) Next(ctx context.Context, agencyName string) (string, error) {
	return a.NextOn(ctx, agencyName, a.now())
}

func (a *Allocator) NextOn(ctx context.Context, agencyName string, day time.Time) (string, error) {
	initials := Initials(agencyName)
	date := day.Format(dateLayout)

	n, err := a.store.Increment(ctx, CounterKey(initials, date))
	if err != nil {
		return "", fmt.Errorf("allocate ticket serial: %w", err)
	}

	number := Format(initials, date, n)
	a.logger.Debug("ticket serial allocated",
		zap.String("ticketNumber", number),
		zap.String("agency", agencyName),
	)
	return number, nil
}

func (a *Allocator) Stats(ctx context.Context) (Stats, error) {
	counters, err := a.store.Counters(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load ticket counters: %w", err)
	}

	today := "_" + a.now().Format(dateLayout)
	stats := Stats{UniqueCounters: len(counters)}
	for key, count := range counters {
		stats.TotalTickets += count
		if strings.HasSuffix(key, today) {
			stats.TodaysTickets += count
		}
	}
	return stats, nil
}

// Initials takes the first letter of the first two words, or the first two letters of a
// single word padded with X. Anything that is not an ASCII letter, digit or space is
// dropped first; an empty result gives "XX".
func Initials(agencyName string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, agencyName)

	words := strings.Fields(cleaned)
	switch {
	case len(words) >= 2:
		return strings.ToUpper(words[0][:1] + words[1][:1])
	case len(words) == 1 && len(words[0]) >= 2:
		return strings.ToUpper(words[0][:2])
	case len(words) == 1:
		return strings.ToUpper(words[0]) + "X"
	}
	return "XX"
}

func CounterKey(initials, date string) string {
	return initials + "_" + date
}

func Format(initials, date string, serial int64) string {
	return fmt.Sprintf("A%s%s%02d", initials, date, serial)
}
