package models

import "time"

// Requests for the coherence HTTP endpoints.

type PointRequest struct {
	Symbol    string     `json:"symbol" validate:"required"`
	Price     float64    `json:"price" validate:"gt=0"`
	Volume    int64      `json:"volume" validate:"gte=0"`
	Timestamp *time.Time `json:"timestamp"`
	Sentiment *float64   `json:"sentiment" validate:"omitempty,gte=-1,lte=1"`
}

// Point converts the request; a missing timestamp becomes now.
func (r PointRequest) Point(now time.Time) MarketDataPoint {
	p := MarketDataPoint{
		Symbol:    r.Symbol,
		Price:     r.Price,
		Volume:    r.Volume,
		Timestamp: now,
		Sentiment: r.Sentiment,
	}
	if r.Timestamp != nil {
		p.Timestamp = *r.Timestamp
	}
	return p
}

type AnalyzeRequest struct {
	Points []PointRequest `json:"points" validate:"required,min=1,max=10000,dive"`
}

type PredictRequest struct {
	Symbol string    `json:"symbol" validate:"required"`
	Series []float64 `json:"series" validate:"required,min=1,max=1000,dive,gte=-1e12,lte=1e12"`
	// Steps defaults to the reservoir's prediction horizon when omitted.
	Steps int `json:"steps" validate:"gte=0,lte=100"`
}

type SymbolQuery struct {
	Symbol string `query:"symbol" validate:"required"`
}

type AlertsQuery struct {
	Symbol string `query:"symbol"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type HistoryQuery struct {
	Symbol string `query:"symbol" validate:"required"`
	From   string `query:"from"`
	To     string `query:"to"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type JobQuery struct {
	ID string `param:"id" validate:"required,uuid"`
}
