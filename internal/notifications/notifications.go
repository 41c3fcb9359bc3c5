package notifications

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

// DuplicateWindow is how far back a structurally equivalent notification
// suppresses a new row for the same (recipient, trade, type).
const DuplicateWindow = 60 * time.Second

type Service struct {
	db  *Database
	now func() time.Time
}

func NewService(db *Database) *Service {
	return &Service{db: db, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Store() *Database {
	return s.db
}

// Record derives one durable notification per recipient from a trade event
// and writes them in a single transaction. Recipients that already hold an
// equivalent notification inside the duplicate window are skipped; their
// existing row is returned instead. On a completed-trade event, earlier
// ACTIVE-status notifications of the trade lose their redirect flag.
func (s *Service) Record(event types.TradeEvent, recipients []string) (map[string]types.Notification, error) {
	logger := log.With().
		Str("operation", "record_notifications").
		Str("trade_id", event.TradeID).
		Str("action", string(event.Action)).
		Logger()

	ntype := event.Action.NotificationType()
	if ntype == "" {
		return nil, nil
	}

	now := s.now()
	cutoff := now.Add(-DuplicateWindow)
	short, detailed := messagesFor(event)

	out := make(map[string]types.Notification, len(recipients))
	var rows []types.Notification
	for _, recipientID := range recipients {
		existing, err := s.db.RecentEquivalent(recipientID, event.TradeID, ntype, cutoff)
		if err != nil {
			logger.Error().Err(err).Str("recipient_id", recipientID).Msg("Duplicate lookup failed")
			return nil, types.WrapError(types.ErrInternal, "failed to record notifications: %v", err)
		}
		if existing != nil {
			out[recipientID] = *existing
			continue
		}
		rows = append(rows, types.Notification{
			NotificationID: "NTF_" + uuid.New().String(),
			RecipientID:    recipientID,
			Type:           ntype,
			ShortMessage:   short,
			DetailMessage:  detailed,
			TradeID:        event.TradeID,
			TradeStatus:    event.Card.Status,
			Instrument:     event.Card.Instrument,
			IsRead:         false,
			IsRedirectable: event.Card.Status != types.TradeStatusCancelled,
			CreatedAt:      now,
		})
	}

	voidTrade := ""
	if event.Action == types.ActionCompleted {
		voidTrade = event.TradeID
	}

	if err := s.db.CreateBatch(rows, voidTrade); err != nil {
		logger.Error().Err(err).Int("recipients", len(rows)).Msg("Failed to write notification batch")
		return nil, types.WrapError(types.ErrInternal, "failed to record notifications: %v", err)
	}

	for _, row := range rows {
		out[row.RecipientID] = row
	}

	logger.Info().
		Int("created", len(rows)).
		Int("suppressed", len(recipients)-len(rows)).
		Msg("Notifications recorded")
	return out, nil
}

// messagesFor renders the user-facing message pair for an event.
func messagesFor(event types.TradeEvent) (short, detailed string) {
	symbol := event.Card.Instrument
	if idx := strings.IndexByte(symbol, ':'); idx >= 0 {
		symbol = symbol[idx+1:]
	}
	kind := strings.ToLower(string(event.Card.Kind))

	switch event.Action {
	case types.ActionCreated:
		short = fmt.Sprintf("New %s trade on %s", kind, symbol)
		detailed = fmt.Sprintf("A new %s trade has been published for %s.", kind, event.Card.Instrument)
	case types.ActionCompleted:
		short = fmt.Sprintf("%s trade completed", symbol)
		detailed = fmt.Sprintf("The %s trade on %s has been completed.", kind, event.Card.Instrument)
	case types.ActionCancelled:
		short = fmt.Sprintf("%s trade cancelled", symbol)
		detailed = fmt.Sprintf("The %s trade on %s has been cancelled.", kind, event.Card.Instrument)
	case types.ActionPrice:
		short = fmt.Sprintf("Price levels updated for %s", symbol)
		detailed = fmt.Sprintf("New price levels are available for the %s trade on %s.", kind, event.Card.Instrument)
	case types.ActionAnalysis:
		short = fmt.Sprintf("Analysis updated for %s", symbol)
		detailed = fmt.Sprintf("The analysis for the %s trade on %s has been updated.", kind, event.Card.Instrument)
	case types.ActionInsight:
		short = fmt.Sprintf("Insight published for %s", symbol)
		detailed = fmt.Sprintf("A post-trade insight is available for the %s trade on %s.", kind, event.Card.Instrument)
	case types.ActionRisk:
		short = fmt.Sprintf("Risk level changed for %s", symbol)
		detailed = fmt.Sprintf("The risk level of the %s trade on %s has changed.", kind, event.Card.Instrument)
	default:
		short = fmt.Sprintf("%s trade updated", symbol)
		detailed = fmt.Sprintf("The %s trade on %s has been updated.", kind, event.Card.Instrument)
	}
	return short, detailed
}

// Accessor decides which trade ids a recipient may currently see.
// Notifications for trades outside that set stay stored but are suppressed
// from listings.
type Accessor interface {
	AccessibleTradeIDsForUser(userID string, at time.Time) (map[string]bool, error)
}

// List returns one page of a recipient's notifications, entitlement-filtered,
// together with the total and the unread count.
func (s *Service) List(userID string, filter ListFilter, page, pageSize int, access Accessor) (*types.NotificationsPage, error) {
	logger := log.With().
		Str("operation", "list_notifications").
		Str("user_id", userID).
		Logger()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	visible, err := access.AccessibleTradeIDsForUser(userID, s.now())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve accessible trades")
		return nil, err
	}

	// Scope the query itself so page sizes and totals reflect only rows the
	// recipient may see; suppressed rows stay stored.
	filter.TradeIDs = make([]string, 0, len(visible))
	for tradeID := range visible {
		filter.TradeIDs = append(filter.TradeIDs, tradeID)
	}
	sort.Strings(filter.TradeIDs)

	rows, total, err := s.db.List(userID, filter, page, pageSize)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list notifications")
		return nil, types.WrapError(types.ErrInternal, "failed to list notifications: %v", err)
	}

	unread, err := s.db.UnreadCount(userID)
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, "failed to count unread notifications: %v", err)
	}

	if rows == nil {
		rows = []types.Notification{}
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &types.NotificationsPage{
		Notifications: rows,
		UnreadCount:   unread,
		Pagination: types.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	}, nil
}

// MarkRead marks one owned notification read. Repeat calls are no-ops.
func (s *Service) MarkRead(userID, notificationID string) error {
	if err := s.db.MarkRead(userID, notificationID); err != nil {
		log.Error().Err(err).
			Str("operation", "mark_notification_read").
			Str("user_id", userID).
			Str("notification_id", notificationID).
			Msg("Failed to mark notification read")
		return err
	}
	return nil
}

// MarkAllRead marks every matching unread notification read and returns how
// many rows changed.
func (s *Service) MarkAllRead(userID string, filter ListFilter) (int64, error) {
	changed, err := s.db.MarkAllRead(userID, filter)
	if err != nil {
		log.Error().Err(err).
			Str("operation", "mark_all_notifications_read").
			Str("user_id", userID).
			Msg("Failed to mark notifications read")
		return 0, types.WrapError(types.ErrInternal, "failed to mark notifications read: %v", err)
	}
	return changed, nil
}

// UnreadCount counts a recipient's unread notifications.
func (s *Service) UnreadCount(userID string) (int64, error) {
	return s.db.UnreadCount(userID)
}
