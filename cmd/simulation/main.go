package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradepulse/tradepulse-api/internal/auth"
	"github.com/tradepulse/tradepulse-api/internal/bus"
	"github.com/tradepulse/tradepulse-api/internal/config"
	"github.com/tradepulse/tradepulse-api/internal/database"
	"github.com/tradepulse/tradepulse-api/internal/emitter"
	"github.com/tradepulse/tradepulse-api/internal/entitlement"
	"github.com/tradepulse/tradepulse-api/internal/notifications"
	"github.com/tradepulse/tradepulse-api/internal/push"
	"github.com/tradepulse/tradepulse-api/internal/subscriptions"
	"github.com/tradepulse/tradepulse-api/internal/trades"
	"github.com/tradepulse/tradepulse-api/internal/types"
	"github.com/tradepulse/tradepulse-api/pkg/middleware"
)

const (
	minTrades      = 15
	maxTrades      = 80
	numWorkers     = 4
	numSubscribers = 8
	serverAddress  = "http://localhost:8080"
	pushAddress    = "ws://localhost:8080"

	analystID = "ANALYST_SIM"
	apiSecret = "sim-secret"
)

// seedInstruments covers each channel: equities feed /ws/trades, the index
// and commodity rows feed /ws/indices.
var seedInstruments = []struct {
	Exchange string
	Symbol   string
	Kind     types.InstrumentKind
}{
	{"NSE", "RELIANCE", types.KindEquity},
	{"NSE", "TCS", types.KindEquity},
	{"NSE", "HDFCBANK", types.KindEquity},
	{"NSE", "INFY", types.KindEquity},
	{"NSE", "NIFTY50", types.KindIndex},
	{"MCX", "GOLD", types.KindCommodity},
}

var (
	plans      = []types.PlanTier{types.PlanBasic, types.PlanPremium, types.PlanSuperPremium, types.PlanFreeTrial}
	tradeKinds = []types.TradeKind{types.TradeKindIntraday, types.TradeKindPositional}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient drives the HTTP API with a single bearer token.
// The analyst client seeds instruments and publishes trades; subscriber
// clients read the entitlement-filtered surfaces.
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates a client sharing the process-wide stats registry
// so analyst and subscriber calls report into the same table.
func newSimulationClient(token string, stats map[string]*routeStats) *simulationClient {
	return &simulationClient{
		baseURL:   serverAddress,
		authToken: token,
		client:    &http.Client{Timeout: 10 * time.Second},
		stats:     stats,
	}
}

func newStatsRegistry() map[string]*routeStats {
	return map[string]*routeStats{
		"auth":          {name: "Authentication"},
		"instrument":    {name: "Create Instrument"},
		"payment":       {name: "Complete Payment"},
		"create_trade":  {name: "Create Trade"},
		"transition":    {name: "Transition Trade"},
		"history":       {name: "Append History"},
		"grouped":       {name: "Grouped Trades"},
		"completed":     {name: "Completed Trades"},
		"statistics":    {name: "Statistics"},
		"notifications": {name: "Notifications"},
	}
}

// postJSON sends an authenticated POST and decodes the standard response
// envelope into out (when out is non-nil).
func (sc *simulationClient) postJSON(statKey, path string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].addFailure()
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats[statKey].addFailure()
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("POST response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].addFailure()
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		envelope := struct {
			Success bool            `json:"success"`
			Data    json.RawMessage `json:"data"`
		}{}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}

// getJSON sends an authenticated GET and decodes the envelope data into out.
func (sc *simulationClient) getJSON(statKey, path string, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest("GET", sc.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].addFailure()
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats[statKey].addFailure()
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("GET response")

	if resp.StatusCode != http.StatusOK {
		sc.stats[statKey].addFailure()
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		envelope := struct {
			Success bool            `json:"success"`
			Data    json.RawMessage `json:"data"`
		}{}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}

// authenticate exchanges API credentials for a JWT token
func authenticate(stats map[string]*routeStats, apiKey, secret string) (string, error) {
	start := time.Now()
	defer func() {
		stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": secret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := http.Post(
		fmt.Sprintf("%s/api/v1/auth/token", serverAddress),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		stats["auth"].addFailure()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		stats["auth"].addFailure()
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.Data.Token == "" {
		return "", fmt.Errorf("no token in response")
	}

	return result.Data.Token, nil
}

func (sc *simulationClient) createInstrument(exchange, symbol string, kind types.InstrumentKind) (string, error) {
	var instrument types.Instrument
	err := sc.postJSON("instrument", "/api/v1/internal/instruments", map[string]interface{}{
		"exchange":       exchange,
		"trading_symbol": symbol,
		"kind":           kind,
	}, &instrument)
	if err != nil {
		return "", err
	}
	if instrument.InstrumentID == "" {
		return "", fmt.Errorf("no instrument ID in response")
	}
	return instrument.InstrumentID, nil
}

func (sc *simulationClient) completePayment(userID string, plan types.PlanTier) error {
	now := time.Now()
	return sc.postJSON("payment", "/api/v1/internal/payments/complete", map[string]interface{}{
		"user_id":     userID,
		"plan":        plan,
		"start_time":  now,
		"end_time":    now.Add(30 * 24 * time.Hour),
		"payment_ref": "PAY_" + uuid.New().String(),
	}, nil)
}

func (sc *simulationClient) createTrade(instrumentID string, kind types.TradeKind, tier types.PlanTier, freeCall, activate bool) (string, error) {
	var trade types.Trade
	err := sc.postJSON("create_trade", "/api/v1/internal/trades", map[string]interface{}{
		"instrument_id": instrumentID,
		"kind":          kind,
		"plan_tier":     tier,
		"risk_level":    float64(rand.Intn(5) + 1),
		"free_call":     freeCall,
		"activate":      activate,
	}, &trade)
	if err != nil {
		return "", err
	}
	if trade.TradeID == "" {
		return "", fmt.Errorf("no trade ID in response")
	}
	return trade.TradeID, nil
}

func (sc *simulationClient) transitionTrade(tradeID string, status types.TradeStatus) error {
	return sc.postJSON("transition", fmt.Sprintf("/api/v1/internal/trades/%s/status", tradeID), map[string]interface{}{
		"status": status,
	}, nil)
}

func (sc *simulationClient) appendHistory(tradeID string, buy float64) error {
	return sc.postJSON("history", fmt.Sprintf("/api/v1/internal/trades/%s/history", tradeID), map[string]interface{}{
		"buy":       decimal.NewFromFloat(buy),
		"target":    decimal.NewFromFloat(buy * 1.1),
		"stop_loss": decimal.NewFromFloat(buy * 0.95),
	}, nil)
}

// frameCounters tracks push frames received across all simulated subscribers.
type frameCounters struct {
	updates       atomic.Int64
	completions   atomic.Int64
	notifications atomic.Int64
	other         atomic.Int64
}

func (fc *frameCounters) observe(frame push.Frame) {
	switch frame.Type {
	case push.FrameTradeUpdate:
		fc.updates.Add(1)
	case push.FrameTradeCompleted:
		fc.completions.Add(1)
	case push.FrameNotification:
		fc.notifications.Add(1)
	case push.FrameInitialData, push.FrameSuccess:
		// Handshake traffic, not counted.
	default:
		fc.other.Add(1)
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func printPerformanceStats(stats map[string]*routeStats) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	for _, k := range keys {
		rs := stats[k]
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			rs.name,
			rs.totalCalls,
			rs.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// main runs the fan-out simulation: it starts a local server, connects a
// fleet of push subscribers, publishes trades through the analyst surface
// and reports delivery counts plus API latency percentiles.
func main() {
	authService := auth.NewService("tradepulse-sim-secret")
	authService.RegisterAPICredentials(analystID, apiSecret)
	for i := 0; i < numSubscribers; i++ {
		authService.RegisterAPICredentials(subscriberID(i), apiSecret)
	}

	// Start the server in a goroutine
	go func() {
		if err := startServer(authService); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	stats := newStatsRegistry()

	// The analyst needs an analyst-typed token for the internal routes; the
	// credential exchange only mints subscriber tokens, so mint it directly
	// against the in-process auth service.
	analystToken, err := authService.IssueToken(analystID, "analyst")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue analyst token")
	}
	analyst := newSimulationClient(analystToken.Token, stats)

	// Seed instruments
	instrumentIDs := make([]string, 0, len(seedInstruments))
	for _, seed := range seedInstruments {
		id, err := analyst.createInstrument(seed.Exchange, seed.Symbol, seed.Kind)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", seed.Symbol).Msg("Failed to create instrument")
		}
		instrumentIDs = append(instrumentIDs, id)
		log.Info().Str("instrument_id", id).Str("symbol", seed.Symbol).Msg("Instrument created")
	}

	// Authenticate subscribers, grant them plans and connect their push clients.
	counters := &frameCounters{}
	pushCtx, stopPush := context.WithCancel(context.Background())
	var pushWG sync.WaitGroup
	subscriberTokens := make([]string, numSubscribers)
	subscriberPlans := make(map[string]types.PlanTier, numSubscribers)

	for i := 0; i < numSubscribers; i++ {
		userID := subscriberID(i)
		plan := plans[i%len(plans)]

		token, err := authenticate(stats, userID, apiSecret)
		if err != nil {
			log.Fatal().Err(err).Str("user_id", userID).Msg("Failed to authenticate subscriber")
		}
		subscriberTokens[i] = token
		subscriberPlans[userID] = plan

		if err := analyst.completePayment(userID, plan); err != nil {
			log.Fatal().Err(err).Str("user_id", userID).Msg("Failed to complete payment")
		}
		log.Info().Str("user_id", userID).Str("plan", string(plan)).Msg("Subscription activated")

		// Every subscriber listens on the trades channel; half also watch
		// their notification inbox stream.
		channels := []string{"/ws/trades"}
		if i%2 == 0 {
			channels = append(channels, "/ws/notifications")
		}
		for _, channel := range channels {
			client := &push.ReconnectingClient{
				URL:     pushAddress + channel,
				Token:   token,
				OnFrame: counters.observe,
			}
			pushWG.Add(1)
			go func(c *push.ReconnectingClient) {
				defer pushWG.Done()
				if err := c.Run(pushCtx); err != nil && err != context.Canceled {
					log.Warn().Err(err).Str("url", c.URL).Msg("Push client stopped")
				}
			}(client)
		}
	}

	// Let the handshakes settle before publishing.
	time.Sleep(500 * time.Millisecond)

	// Publish trades concurrently through the analyst surface. Each worker
	// drives its trades through the full lifecycle so the per-instrument
	// open slots recycle between iterations.
	targetTrades := rand.Intn(maxTrades-minTrades) + minTrades
	log.Info().Int("target_trades", targetTrades).Msg("Starting simulation")

	startTime := time.Now()
	resultsChan := make(chan tradeResult, targetTrades)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			publishTrades(workerID, targetTrades/numWorkers, analyst, instrumentIDs, resultsChan)
		}(i)
	}
	wg.Wait()
	close(resultsChan)

	// Collect statistics from the worker results
	summary := struct {
		TotalTrades       int
		CompletedTrades   int
		CancelledTrades   int
		FailedTransitions int
		Outcomes          map[string]int
	}{
		Outcomes: make(map[string]int),
	}
	for result := range resultsChan {
		summary.TotalTrades++
		if !result.Closed {
			summary.FailedTransitions++
			continue
		}
		summary.Outcomes[string(result.Status)]++
		if result.Status == types.TradeStatusCompleted {
			summary.CompletedTrades++
		} else {
			summary.CancelledTrades++
		}
	}
	log.Info().Int("trades_published", summary.TotalTrades).Msg("All trades processed")

	// Exercise the read API with every subscriber token.
	for i, token := range subscriberTokens {
		reader := newSimulationClient(token, stats)
		userID := subscriberID(i)

		var grouped trades.GroupedTrades
		if err := reader.getJSON("grouped", "/api/v1/trades/grouped", &grouped); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch grouped trades")
		}
		var completed types.CompletedTradesPage
		if err := reader.getJSON("completed", "/api/v1/trades/completed?page=1", &completed); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch completed trades")
		}
		var tradeStats types.TradeStatistics
		if err := reader.getJSON("statistics", "/api/v1/trades/statistics", &tradeStats); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch statistics")
		}
		var inbox types.NotificationsPage
		if err := reader.getJSON("notifications", "/api/v1/notifications", &inbox); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch notifications")
		}

		log.Info().
			Str("user_id", userID).
			Str("plan", string(subscriberPlans[userID])).
			Int64("completed_visible", completed.Pagination.TotalItems).
			Int64("unread", inbox.UnreadCount).
			Msg("Subscriber view")
	}

	// Give in-flight frames time to drain before tearing connections down.
	time.Sleep(2 * time.Second)
	stopPush()
	pushWG.Wait()

	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("TRADE FAN-OUT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Trade Statistics
----------------
Total Trades:       %d
Completed:          %d
Cancelled:          %d
Failed Transitions: %d
Duration:           %v

Push Delivery
-------------
Trade Updates:      %d
Completions:        %d
Notifications:      %d
Other Frames:       %d
`, summary.TotalTrades, summary.CompletedTrades, summary.CancelledTrades,
		summary.FailedTransitions, duration.Round(time.Millisecond),
		counters.updates.Load(), counters.completions.Load(),
		counters.notifications.Load(), counters.other.Load())

	// Outcome distribution with a simple ASCII bar chart.
	fmt.Println("\nOutcome Distribution")
	fmt.Println("--------------------")
	for outcome, count := range summary.Outcomes {
		barLength := int(float64(count) / float64(summary.TotalTrades) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-10s: %s (%d)\n", outcome, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	closedTrades := summary.CompletedTrades + summary.CancelledTrades
	successRate := 0.0
	if summary.TotalTrades > 0 {
		successRate = float64(closedTrades) / float64(summary.TotalTrades) * 100
	}
	log.Info().
		Float64("close_rate", successRate).
		Int("total_trades", summary.TotalTrades).
		Int64("frames_delivered", counters.updates.Load()+counters.completions.Load()+counters.notifications.Load()).
		Dur("duration", duration).
		Msg("Simulation completed")

	printPerformanceStats(stats)
}

func subscriberID(i int) string {
	return fmt.Sprintf("USR_SIM_%d", i+1)
}

// tradeResult reports one worker iteration: a published trade and whether
// it reached a terminal status.
type tradeResult struct {
	TradeID string
	Status  types.TradeStatus
	Closed  bool
}

// publishTrades runs as a worker goroutine. Each iteration publishes an
// active trade against a random instrument and tier, revises its prices and
// then closes it, so the instrument slot is free for the next iteration.
// A slice of the trades go out as free calls so every plan sees some traffic
// regardless of tier.
func publishTrades(workerID, numTrades int, analyst *simulationClient, instrumentIDs []string, results chan<- tradeResult) {
	for i := 0; i < numTrades; i++ {
		instrumentID := instrumentIDs[rand.Intn(len(instrumentIDs))]
		kind := tradeKinds[rand.Intn(len(tradeKinds))]
		tier := plans[rand.Intn(3)] // BASIC, PREMIUM or SUPER_PREMIUM
		freeCall := rand.Intn(10) == 0

		tradeID, err := analyst.createTrade(instrumentID, kind, tier, freeCall, true)
		if err != nil {
			// Another worker may hold the instrument/kind slot open.
			log.Debug().Err(err).
				Int("worker_id", workerID).
				Str("instrument_id", instrumentID).
				Msg("Failed to create trade")
			continue
		}

		log.Info().
			Int("worker_id", workerID).
			Str("trade_id", tradeID).
			Str("kind", string(kind)).
			Str("plan_tier", string(tier)).
			Bool("free_call", freeCall).
			Msg("Trade published")

		if err := analyst.appendHistory(tradeID, float64(rand.Intn(900)+100)); err != nil {
			log.Error().Err(err).Str("trade_id", tradeID).Msg("Failed to append history")
		}

		// Brief hold so push subscribers see the trade while it is live.
		time.Sleep(time.Duration(rand.Intn(300)) * time.Millisecond)

		target := types.TradeStatusCompleted
		if rand.Intn(5) == 0 {
			target = types.TradeStatusCancelled
		}
		if err := analyst.transitionTrade(tradeID, target); err != nil {
			log.Error().Err(err).Str("trade_id", tradeID).Str("status", string(target)).Msg("Failed to close trade")
			results <- tradeResult{TradeID: tradeID}
			continue
		}

		results <- tradeResult{TradeID: tradeID, Status: target, Closed: true}
		log.Info().Str("trade_id", tradeID).Str("status", string(target)).Msg("Trade closed")
	}
}

// startServer wires and starts the full API server in-process, mirroring
// cmd/server but against a throwaway database file.
func startServer(authService *auth.Service) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.NewDatabase(fmt.Sprintf("tradepulse-sim-%d.db", os.Getpid()))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	authHandlers := auth.NewGinHandlers(authService)

	subscriptionService := subscriptions.NewService(db)
	subscriptionHandlers := subscriptions.NewGinHandlers(subscriptionService)

	tradeService := trades.NewService(db)
	resolver := entitlement.NewResolver(tradeService.Store())
	statsCache := trades.NewStatsCache(tradeService, cfg.Stats.CacheTTL)
	tradeHandlers := trades.NewGinHandlers(tradeService, resolver, subscriptionService, statsCache)

	notificationService := notifications.NewService(notifications.NewDatabase(db))
	access := entitlement.NewUserAccess(resolver, subscriptionService)
	notificationHandlers := notifications.NewGinHandlers(notificationService, access)

	eventBus := bus.NewWithBuffer(cfg.Push.SubscriberBuffer)
	changeEmitter := emitter.New(eventBus, notificationService, subscriptionService, resolver)
	tradeService.RegisterObserver(changeEmitter)

	hub := push.NewHub(eventBus, authService, subscriptionService, tradeService, notificationService, resolver, cfg.Push)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	setupRoutes(router, authHandlers, tradeHandlers, subscriptionHandlers, notificationHandlers, authService, hub)

	return router.Run(":8080")
}

// setupRoutes configures the same endpoint layout as cmd/server.
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	tradeHandlers *trades.GinHandlers,
	subscriptionHandlers *subscriptions.GinHandlers,
	notificationHandlers *notifications.GinHandlers,
	identity auth.Identity,
	hub *push.Hub,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		tradesGroup := v1.Group("/trades")
		tradesGroup.Use(middleware.BearerAuth(identity))
		{
			tradesGroup.GET("/completed", tradeHandlers.GetCompletedTradesHandler())
			tradesGroup.GET("/grouped", tradeHandlers.GetGroupedTradesHandler())
			tradesGroup.GET("/monthly", tradeHandlers.GetMonthlyTradesHandler())
			tradesGroup.GET("/statistics", tradeHandlers.GetStatisticsHandler())
		}

		notificationsGroup := v1.Group("/notifications")
		notificationsGroup.Use(middleware.BearerAuth(identity))
		{
			notificationsGroup.GET("", notificationHandlers.ListHandler())
			notificationsGroup.POST("/:id/mark_read", notificationHandlers.MarkReadHandler())
			notificationsGroup.POST("/mark_all_read", notificationHandlers.MarkAllReadHandler())
		}

		subscriptionGroup := v1.Group("/subscription")
		subscriptionGroup.Use(middleware.BearerAuth(identity))
		{
			subscriptionGroup.GET("", subscriptionHandlers.GetSubscriptionHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.BearerAuth(identity), middleware.AnalystAuth())
		{
			internal.POST("/instruments", tradeHandlers.CreateInstrumentHandler())
			internal.GET("/instruments/:id/available_kinds", tradeHandlers.GetAvailableKindsHandler())
			internal.POST("/trades", tradeHandlers.CreateTradeHandler())
			internal.POST("/trades/:id/status", tradeHandlers.TransitionTradeHandler())
			internal.POST("/trades/:id/history", tradeHandlers.AppendHistoryHandler())
			internal.POST("/trades/:id/risk_level", tradeHandlers.UpdateRiskLevelHandler())
			internal.POST("/trades/:id/chart_image", tradeHandlers.UpdateChartImageHandler())
			internal.POST("/trades/:id/analysis", tradeHandlers.UpsertAnalysisHandler())
			internal.POST("/trades/:id/insight", tradeHandlers.UpsertInsightHandler())
			internal.POST("/payments/complete", subscriptionHandlers.CompletePaymentHandler())
		}
	}

	ws := router.Group("/ws")
	{
		ws.GET("/trades", hub.TradesHandler())
		ws.GET("/indices", hub.IndicesHandler())
		ws.GET("/notifications", hub.NotificationsHandler())
	}
}
