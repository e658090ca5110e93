package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidPoint = errors.New("invalid market data point")

// MarketDataPoint is one observation for a symbol.
type MarketDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	// Sentiment is optional and lies in [-1,1].
	Sentiment *float64 `json:"sentiment,omitempty"`
}

// Validate rejects points the coherence pipeline cannot score.
func (p *MarketDataPoint) Validate() error {
	switch {
	case strings.TrimSpace(p.Symbol) == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidPoint)
	case math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrInvalidPoint, p.Price)
	case p.Volume < 0:
		return fmt.Errorf("%w: volume %d", ErrInvalidPoint, p.Volume)
	case p.Sentiment != nil && (math.IsNaN(*p.Sentiment) || *p.Sentiment < -1 || *p.Sentiment > 1):
		return fmt.Errorf("%w: sentiment %v", ErrInvalidPoint, *p.Sentiment)
	}
	return nil
}

func Sentiment(v float64) *float64 { return &v }

// Trade is a raw execution from a live feed before it is turned into a data point.
type Trade struct {
	Symbol     string    `json:"s"`
	Price      float64   `json:"p"`
	Volume     float64   `json:"v"`
	Timestamp  time.Time `json:"t"`
	Conditions []string  `json:"c,omitempty"`
}

// Point converts a trade into a data point. Fractional volumes are rounded.
func (t *Trade) Point() MarketDataPoint {
	return MarketDataPoint{
		Timestamp: t.Timestamp,
		Symbol:    t.Symbol,
		Price:     t.Price,
		Volume:    int64(math.Round(t.Volume)),
	}
}
