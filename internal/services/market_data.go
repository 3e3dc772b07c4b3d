package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"paper-trader/internal/models"
)

type alphaVantageResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

type alphaVantageError struct {
	Information string `json:"Information"`
}

// MarketDataService is the price oracle: Alpha Vantage quotes when an API key
// is configured and the API cooperates, a per-symbol random walk otherwise.
type MarketDataService struct {
	apiKey string
	client *http.Client
	log    *zap.Logger

	mu             sync.Mutex
	useMockData    bool
	lastAPISuccess time.Time
	mockPrices     map[string]float64
}

func NewMarketDataService(apiKey string, log *zap.Logger) *MarketDataService {
	if apiKey == "" {
		log.Warn("no market data API key configured, running on simulated prices only")
	}
	return &MarketDataService{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		mockPrices: map[string]float64{
			"AAPL":  175.50,
			"GOOGL": 138.25,
			"MSFT":  330.80,
			"TSLA":  210.75,
			"AMZN":  178.90,
		},
	}
}

// GetLastPrice satisfies the trigger monitor's oracle contract.
func (m *MarketDataService) GetLastPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	stock, err := m.GetStockPrice(ctx, symbol)
	if err != nil {
		return 0, time.Time{}, err
	}
	return stock.Price, stock.Timestamp, nil
}

// GetStockPrice returns the latest quote, preferring the real API and falling
// back to the simulator when it is unavailable or rate limited.
func (m *MarketDataService) GetStockPrice(ctx context.Context, symbol string) (*models.Stock, error) {
	if m.apiKey != "" && m.shouldTryRealAPI() {
		stock, err := m.getRealStockPrice(ctx, symbol)
		if err == nil {
			m.recordAPISuccess()
			return stock, nil
		}
		m.log.Warn("quote API failed, switching to simulated prices",
			zap.String("symbol", symbol), zap.Error(err))
		m.recordAPIFailure()
	}
	return m.GetMockStockPrice(symbol)
}

func (m *MarketDataService) shouldTryRealAPI() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.useMockData || time.Since(m.lastAPISuccess) > 30*time.Minute
}

func (m *MarketDataService) recordAPISuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.useMockData = false
	m.lastAPISuccess = time.Now()
}

func (m *MarketDataService) recordAPIFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.useMockData = true
}

func (m *MarketDataService) getRealStockPrice(ctx context.Context, symbol string) (*models.Stock, error) {
	url := fmt.Sprintf("https://www.alphavantage.co/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s", symbol, m.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quote response: %w", err)
	}

	var apiErr alphaVantageError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Information != "" {
		return nil, fmt.Errorf("quote API refused: %s", apiErr.Information)
	}

	var quote alphaVantageResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("parse quote response: %w", err)
	}
	if quote.GlobalQuote.Symbol == "" || quote.GlobalQuote.Price == "" {
		return nil, fmt.Errorf("no data returned for symbol %s", symbol)
	}

	price, err := parsePrice(quote.GlobalQuote.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	change, _ := parsePrice(quote.GlobalQuote.Change)
	changePercent, _ := parseChangePercent(quote.GlobalQuote.ChangePercent)

	return &models.Stock{
		Symbol:        strings.ToUpper(quote.GlobalQuote.Symbol),
		Name:          stockName(quote.GlobalQuote.Symbol),
		Price:         price,
		Change:        change,
		ChangePercent: changePercent,
		Timestamp:     time.Now(),
	}, nil
}

// GetMockStockPrice advances the symbol's simulated random walk by one step
// (at most ±1.5%) and returns the new quote.
func (m *MarketDataService) GetMockStockPrice(symbol string) (*models.Stock, error) {
	symbol = strings.ToUpper(symbol)

	m.mu.Lock()
	basePrice, ok := m.mockPrices[symbol]
	if !ok {
		basePrice = 100.0
	}
	changePercent := rand.Float64()*3 - 1.5
	change := basePrice * changePercent / 100
	newPrice := basePrice + change
	m.mockPrices[symbol] = newPrice
	m.mu.Unlock()

	return &models.Stock{
		Symbol:        symbol,
		Name:          stockName(symbol),
		Price:         newPrice,
		Change:        change,
		ChangePercent: changePercent,
		Volume:        rand.Int63n(5000000) + 1000000,
		Timestamp:     time.Now(),
	}, nil
}

func parsePrice(priceStr string) (float64, error) {
	cleaned := strings.TrimSpace(priceStr)
	if cleaned == "" {
		return 0, fmt.Errorf("empty price string")
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse %q as float: %w", cleaned, err)
	}
	return price, nil
}

func parseChangePercent(percentStr string) (float64, error) {
	cleaned := strings.TrimSpace(strings.TrimSuffix(percentStr, "%"))
	if cleaned == "" {
		return 0, fmt.Errorf("empty percent string")
	}
	percent, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse %q as float: %w", cleaned, err)
	}
	return percent, nil
}

func stockName(symbol string) string {
	names := map[string]string{
		"AAPL":  "Apple Inc.",
		"GOOGL": "Alphabet Inc.",
		"MSFT":  "Microsoft Corporation",
		"TSLA":  "Tesla Inc.",
		"AMZN":  "Amazon.com Inc.",
		"NVDA":  "NVIDIA Corporation",
		"META":  "Meta Platforms Inc.",
		"JPM":   "JPMorgan Chase & Co.",
	}
	if name, ok := names[strings.ToUpper(symbol)]; ok {
		return name
	}
	return fmt.Sprintf("%s Corporation", symbol)
}
