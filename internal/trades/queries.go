package trades

import (
	"sort"
	"sync"
	"time"

	"github.com/tradepulse/tradepulse-api/internal/entitlement"
	"github.com/tradepulse/tradepulse-api/internal/types"
)

// CompletedPageSize is the fixed page size of the completed-trades listing.
const CompletedPageSize = 20

// CompletedTradesForUser pages the completed trades the subscription may
// see, newest completion first. Pagination is applied after entitlement so
// the totals reflect what the user can actually retrieve.
func (s *Service) CompletedTradesForUser(sub *types.Subscription, resolver *entitlement.Resolver, page int) (*types.CompletedTradesPage, error) {
	if page < 1 {
		page = 1
	}
	cards, err := s.accessibleCards(sub, resolver)
	if err != nil {
		return nil, err
	}

	completed := cards[:0]
	for _, card := range cards {
		if card.Status == types.TradeStatusCompleted {
			completed = append(completed, card)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		a, b := completed[i], completed[j]
		if a.CompletedAt == nil || b.CompletedAt == nil {
			return a.CompletedAt != nil
		}
		if !a.CompletedAt.Equal(*b.CompletedAt) {
			return a.CompletedAt.After(*b.CompletedAt)
		}
		return a.TradeID < b.TradeID
	})

	total := int64(len(completed))
	start := (page - 1) * CompletedPageSize
	if start > len(completed) {
		start = len(completed)
	}
	end := start + CompletedPageSize
	if end > len(completed) {
		end = len(completed)
	}

	pageCards := completed[start:end]
	if pageCards == nil {
		pageCards = []types.TradeCard{}
	}
	return &types.CompletedTradesPage{
		Trades: pageCards,
		Pagination: types.Pagination{
			Page:       page,
			PageSize:   CompletedPageSize,
			TotalItems: total,
			TotalPages: int((total + CompletedPageSize - 1) / CompletedPageSize),
		},
	}, nil
}

// GroupedTrades is the per-instrument live view plus the quota block.
type GroupedTrades struct {
	InstrumentCards  []types.InstrumentCard  `json:"instrument_cards"`
	SubscriptionInfo *types.SubscriptionInfo `json:"subscription_info"`
}

// GroupedTradesForUser renders the accessible set as instrument cards.
func (s *Service) GroupedTradesForUser(sub *types.Subscription, resolver *entitlement.Resolver) (*GroupedTrades, error) {
	decision, err := resolver.AccessibleTradeIDs(sub)
	if err != nil {
		return nil, err
	}
	cards, err := s.BuildInstrumentCards(decision.AllIDs())
	if err != nil {
		return nil, err
	}
	if cards == nil {
		cards = []types.InstrumentCard{}
	}
	info, err := resolver.CountsAndLimits(sub)
	if err != nil {
		return nil, err
	}
	return &GroupedTrades{InstrumentCards: cards, SubscriptionInfo: info}, nil
}

// MonthlyTradesForUser groups the user's completed trades by calendar month
// of completion, newest month first.
func (s *Service) MonthlyTradesForUser(sub *types.Subscription, resolver *entitlement.Resolver) ([]types.MonthlyTradeGroup, error) {
	cards, err := s.accessibleCards(sub, resolver)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string][]types.TradeCard)
	for _, card := range cards {
		if card.Status != types.TradeStatusCompleted || card.CompletedAt == nil {
			continue
		}
		month := card.CompletedAt.UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], card)
	}

	months := make([]string, 0, len(byMonth))
	for month := range byMonth {
		months = append(months, month)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))

	groups := make([]types.MonthlyTradeGroup, 0, len(months))
	for _, month := range months {
		cards := byMonth[month]
		sort.SliceStable(cards, func(i, j int) bool {
			return cards[i].CompletedAt.After(*cards[j].CompletedAt)
		})
		groups = append(groups, types.MonthlyTradeGroup{Month: month, Trades: cards})
	}
	return groups, nil
}

func (s *Service) accessibleCards(sub *types.Subscription, resolver *entitlement.Resolver) ([]types.TradeCard, error) {
	decision, err := resolver.AccessibleTradeIDs(sub)
	if err != nil {
		return nil, err
	}
	return s.BuildTradeCards(decision.AllIDs())
}

// StatsCache serves the completed-trade statistics with a TTL so the
// aggregate scan does not run on every request.
type StatsCache struct {
	service *Service
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	value     *types.TradeStatistics
	expiresAt time.Time
}

func NewStatsCache(service *Service, ttl time.Duration) *StatsCache {
	return &StatsCache{service: service, ttl: ttl, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (c *StatsCache) SetClock(now func() time.Time) {
	c.now = now
}

// Statistics returns the cached aggregate, recomputing after expiry.
func (c *StatsCache) Statistics() (*types.TradeStatistics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.value != nil && now.Before(c.expiresAt) {
		return c.value, nil
	}

	total, avgHours, err := c.service.db.CompletedTradeAggregates()
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "failed to compute trade statistics: %v", err)
	}
	successful, err := c.service.db.SuccessfulCompletedCount()
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "failed to compute trade statistics: %v", err)
	}

	stats := &types.TradeStatistics{
		TotalCompleted:  total,
		AverageDuration: avgHours,
		GeneratedAt:     now,
	}
	if total > 0 {
		stats.SuccessRate = float64(successful) / float64(total) * 100
	}

	c.value = stats
	c.expiresAt = now.Add(c.ttl)
	return stats, nil
}

// Invalidate drops the cached value.
func (c *StatsCache) Invalidate() {
	c.mu.Lock()
	c.value = nil
	c.mu.Unlock()
}
