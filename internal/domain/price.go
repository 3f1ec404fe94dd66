package domain

import "time"

type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// DateKey is the calendar-day key used for alignment and caching.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

type PriceSeries struct {
	Symbol     string
	Bars       []Bar
	DataSource PriceSource
}

// AlignedSeries is a series re-expressed on a shared axis. Closes has the
// same length as the axis; entries before Offset are zero and must not be
// read.
type AlignedSeries struct {
	Symbol string
	Offset int
	Closes []float64
	Bars   []Bar
}

// HasDataAt reports whether the series has an observed or carried close
// at index i.
func (s *AlignedSeries) HasDataAt(i int) bool {
	return s != nil && i >= s.Offset && i < len(s.Closes)
}

// Visible returns closes from the first observation through index i.
func (s *AlignedSeries) Visible(i int) []float64 {
	if !s.HasDataAt(i) {
		return nil
	}
	return s.Closes[s.Offset : i+1]
}

type AlignedUniverse struct {
	AxisSymbol string
	Axis       []time.Time
	Series     map[string]*AlignedSeries
}

func (u *AlignedUniverse) Len() int {
	return len(u.Axis)
}

func (u *AlignedUniverse) Symbols() []string {
	out := make([]string, 0, len(u.Series))
	for symbol := range u.Series {
		out = append(out, symbol)
	}
	return out
}

// Return is the simple close-to-close return for symbol from i-1 to i,
// zero when either side lacks data.
func (u *AlignedUniverse) Return(symbol string, i int) float64 {
	s := u.Series[symbol]
	if !s.HasDataAt(i) || !s.HasDataAt(i-1) {
		return 0
	}
	prev := s.Closes[i-1]
	if prev <= 0 {
		return 0
	}
	return s.Closes[i]/prev - 1
}

type Quote struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
