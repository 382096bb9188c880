package statistics

import (
	"context"
	"fmt"
	"sort"

	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/store"
)

// Service answers read-only questions over events and the inventory ledger
type Service struct {
	store *store.DB
}

// NewService creates a new statistics service
func NewService(db *store.DB) *Service {
	return &Service{store: db}
}

// EventStatistics is a point-in-time view of one event's inventory
type EventStatistics struct {
	EventID            string              `json:"event_id"`
	Status             models.EventStatus  `json:"status"`
	Capacity           int                 `json:"capacity"`
	Sold               int                 `json:"sold"`
	Held               int                 `json:"held"`
	Remaining          int                 `json:"remaining"`
	SellThrough        float64             `json:"sell_through"`
	ActiveReservations int                 `json:"active_reservations"`
	DailySales         []DailySalesMetrics `json:"daily_sales"`
}

// DailySalesMetrics contains net units sold on a single UTC day
type DailySalesMetrics struct {
	Date        string `json:"date"`
	TicketsSold int    `json:"tickets_sold"`
}

// StatusCount is the number of live events in one status
type StatusCount struct {
	Status models.EventStatus `bun:"status" json:"status"`
	Count  int                `bun:"count" json:"count"`
}

// EventStatistics returns counters, sell-through and the daily sales history
// of an event. Direct sales and confirmed reservations count as sold, reversals
// are subtracted on the day they happened.
func (s *Service) EventStatistics(ctx context.Context, eventID string) (*EventStatistics, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	active, err := s.store.CountActiveReservations(ctx, eventID)
	if err != nil {
		return nil, err
	}

	moves, err := s.store.ListMovements(ctx, eventID, models.MovementSale, models.MovementConfirm, models.MovementReverse)
	if err != nil {
		return nil, err
	}

	stats := &EventStatistics{
		EventID:            ev.ID,
		Status:             ev.Status,
		Capacity:           ev.Capacity,
		Sold:               ev.Sold,
		Held:               ev.Held,
		Remaining:          ev.Remaining(),
		ActiveReservations: active,
		DailySales:         dailySales(moves),
	}
	if ev.Capacity > 0 {
		stats.SellThrough = float64(ev.Sold) / float64(ev.Capacity)
	}
	return stats, nil
}

func dailySales(moves []models.InventoryMovement) []DailySalesMetrics {
	byDay := make(map[string]int)
	for _, m := range moves {
		day := m.CreatedAt.UTC().Format("2006-01-02")
		switch m.Kind {
		case models.MovementSale, models.MovementConfirm:
			byDay[day] += m.Quantity
		case models.MovementReverse:
			byDay[day] -= m.Quantity
		}
	}

	out := make([]DailySalesMetrics, 0, len(byDay))
	for day, n := range byDay {
		out = append(out, DailySalesMetrics{Date: day, TicketsSold: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// StatusSummary counts events per status. Removed events are excluded and
// statuses with no events are reported as zero.
func (s *Service) StatusSummary(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := s.store.Bun.NewSelect().
		Model((*models.EventRecord)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		Where("removed_at IS NULL").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize event statuses: %w", err)
	}

	counts := make(map[models.EventStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	out := make([]StatusCount, 0, len(models.Statuses))
	for _, st := range models.Statuses {
		out = append(out, StatusCount{Status: st, Count: counts[st]})
	}
	return out, nil
}
