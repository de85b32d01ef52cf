package yahoo

import (
	"errors"
	"fmt"

	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/multi"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/aristath/brokersync/internal/domain"
)

// snapshot is the latest price view of a single symbol
type snapshot struct {
	Price         float64
	PreviousClose float64
}

// feed is the part of Yahoo Finance the client reads from
type feed interface {
	snapshot(symbol string) (snapshot, error)
	history(symbol, period, interval string) ([]domain.Bar, error)
	download(symbols []string, period, interval string) (map[string][]domain.Bar, map[string]error, error)
}

// yfinanceFeed reads Yahoo Finance through go-yfinance
type yfinanceFeed struct{}

func (yfinanceFeed) snapshot(symbol string) (snapshot, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	var snap snapshot

	// Quote is the cheaper call; Info fills in what it lacks
	quote, err := t.Quote()
	if err == nil && quote != nil {
		switch {
		case quote.RegularMarketPrice > 0:
			snap.Price = quote.RegularMarketPrice
		case quote.PreMarketPrice > 0:
			snap.Price = quote.PreMarketPrice
		case quote.PostMarketPrice > 0:
			snap.Price = quote.PostMarketPrice
		}
	}

	info, infoErr := t.Info()
	if infoErr == nil && info != nil {
		snap.PreviousClose = info.RegularMarketPreviousClose
		if snap.Price <= 0 {
			snap.Price = info.CurrentPrice
		}
	}

	if snap.Price <= 0 {
		if err == nil {
			err = infoErr
		}
		if err == nil {
			err = errors.New("no market price")
		}
		return snapshot{}, err
	}
	return snap, nil
}

func (yfinanceFeed) history(symbol, period, interval string) ([]domain.Bar, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     period,
		Interval:   interval,
		AutoAdjust: true,
	})
	if err != nil {
		return nil, err
	}
	return toBars(bars), nil
}

func (yfinanceFeed) download(symbols []string, period, interval string) (map[string][]domain.Bar, map[string]error, error) {
	params := models.DefaultDownloadParams()
	params.Symbols = symbols
	params.Period = period
	params.Interval = interval

	result, err := multi.Download(symbols, &params)
	if err != nil {
		return nil, nil, err
	}

	data := make(map[string][]domain.Bar, len(result.Data))
	for sym, bars := range result.Data {
		data[sym] = toBars(bars)
	}
	errs := make(map[string]error, len(result.Errors))
	for sym, err := range result.Errors {
		errs[sym] = err
	}
	return data, errs, nil
}

// toBars converts library candles, skipping empty ones Yahoo emits for missing sessions
func toBars(in []models.Bar) []domain.Bar {
	out := make([]domain.Bar, 0, len(in))
	for _, bar := range in {
		if bar.Open == 0 && bar.High == 0 && bar.Low == 0 && bar.Close == 0 {
			continue
		}
		out = append(out, domain.Bar{
			Time:   bar.Date.UTC(),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: int64(bar.Volume),
		})
	}
	return out
}

var _ feed = yfinanceFeed{}
