package dataprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-eval/internal/regime"
	"github.com/atlas-desktop/strategy-eval/pkg/types"
)

// SymbolMetadata describes the stored range for one symbol/timeframe
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// FileProvider serves market data from JSON files on disk. Files are named
// <symbol>_<timeframe>.json with slashes in the symbol replaced by dashes.
// Sentiment and calendar files are optional; missing ones yield empty slices.
type FileProvider struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	dataDir    string
	metadata   map[string]*SymbolMetadata
	classifier *regime.Classifier
}

// NewFileProvider creates a file-backed provider rooted at dataDir
func NewFileProvider(logger *zap.Logger, dataDir string) (*FileProvider, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	p := &FileProvider{
		logger:     logger,
		dataDir:    dataDir,
		metadata:   make(map[string]*SymbolMetadata),
		classifier: regime.NewClassifier(logger, nil),
	}
	if err := p.loadMetadata(); err != nil {
		logger.Warn("failed to load metadata", zap.Error(err))
	}
	return p, nil
}

func seriesFilename(symbol string, timeframe types.Timeframe) string {
	safe := filepath.Base(replaceSlashes(symbol))
	return fmt.Sprintf("%s_%s.json", safe, timeframe)
}

func replaceSlashes(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '/' {
			out[i] = '-'
		}
	}
	return string(out)
}

// GetOHLCV loads, normalizes, and range-filters bars for a symbol
func (p *FileProvider) GetOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filename := filepath.Join(p.dataDir, seriesFilename(symbol, timeframe))
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &types.DataError{Op: "fetch", Symbol: symbol, Err: fmt.Errorf("no data file for %s %s", symbol, timeframe)}
		}
		return nil, &types.DataError{Op: "fetch", Symbol: symbol, Err: err}
	}

	var bars []types.OHLCV
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, &types.DataError{Op: "fetch", Symbol: symbol, Err: fmt.Errorf("failed to parse data: %w", err)}
	}

	normalized, err := Normalize(p.logger, symbol, bars)
	if err != nil {
		return nil, err
	}

	if gaps := DetectGaps(normalized, timeframe, 3.0); len(gaps) > 0 {
		p.logger.Warn("gaps in stored series",
			zap.String("symbol", symbol),
			zap.Int("gaps", len(gaps)),
		)
	}

	return FilterRange(normalized, start, end), nil
}

// SaveOHLCV writes bars to disk and updates the metadata index
func (p *FileProvider) SaveOHLCV(symbol string, timeframe types.Timeframe, bars []types.OHLCV) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	filename := filepath.Join(p.dataDir, seriesFilename(symbol, timeframe))
	data, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	if len(bars) > 0 {
		key := fmt.Sprintf("%s_%s", symbol, timeframe)
		p.metadata[key] = &SymbolMetadata{
			Symbol:    symbol,
			Timeframe: string(timeframe),
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
		}
	}
	return p.saveMetadata()
}

// GetSentiment loads optional sentiment files; absent files mean no events
func (p *FileProvider) GetSentiment(ctx context.Context, symbol string, start, end time.Time) ([]types.SentimentEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filename := filepath.Join(p.dataDir, replaceSlashes(symbol)+"_sentiment.json")
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.DataError{Op: "fetch", Symbol: symbol, Err: err}
	}

	var events []types.SentimentEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, &types.DataError{Op: "fetch", Symbol: symbol, Err: err}
	}

	var filtered []types.SentimentEvent
	for _, ev := range events {
		if !ev.Timestamp.Before(start) && !ev.Timestamp.After(end) {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}

// GetEconomicEvents loads optional calendar files for a currency
func (p *FileProvider) GetEconomicEvents(ctx context.Context, currency string, start, end time.Time) ([]types.EconomicEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filename := filepath.Join(p.dataDir, currency+"_calendar.json")
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.DataError{Op: "fetch", Err: err}
	}

	var events []types.EconomicEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, &types.DataError{Op: "fetch", Err: err}
	}

	var filtered []types.EconomicEvent
	for _, ev := range events {
		if !ev.Timestamp.Before(start) && !ev.Timestamp.After(end) {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}

// GetMarketContext classifies the regime from stored daily bars
func (p *FileProvider) GetMarketContext(ctx context.Context, symbol string, at time.Time) (*types.MarketContext, error) {
	lookback := at.Add(-30 * 24 * time.Hour)
	bars, err := p.GetOHLCV(ctx, symbol, types.Timeframe1d, lookback, at)
	if err != nil {
		return nil, err
	}
	return p.classifier.Context(symbol, bars), nil
}

// GetAvailableSymbols lists the distinct symbols in the metadata index
func (p *FileProvider) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool)
	var symbols []string
	for _, meta := range p.metadata {
		if !seen[meta.Symbol] {
			seen[meta.Symbol] = true
			symbols = append(symbols, meta.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// AvailableRange reports the stored range for a symbol/timeframe
func (p *FileProvider) AvailableRange(symbol string, timeframe types.Timeframe) (start, end time.Time, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key := fmt.Sprintf("%s_%s", symbol, timeframe)
	if meta, ok := p.metadata[key]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("no data available for %s %s", symbol, timeframe)
}

func (p *FileProvider) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(p.dataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &p.metadata)
}

// saveMetadata persists the index; caller holds the lock
func (p *FileProvider) saveMetadata() error {
	data, err := json.MarshalIndent(p.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.dataDir, "metadata.json"), data, 0644)
}
