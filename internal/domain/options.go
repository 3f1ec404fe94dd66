package domain

import (
	"fmt"
	"time"
)

type RSIMethod string

const (
	RSIMethod_Wilder RSIMethod = "wilder"
	RSIMethod_Simple RSIMethod = "simple"
)

type DataAdjustment string

const (
	DataAdjustment_Raw      DataAdjustment = "raw"
	DataAdjustment_Split    DataAdjustment = "split"
	DataAdjustment_Dividend DataAdjustment = "dividend"
	DataAdjustment_All      DataAdjustment = "all"
)

type AsOfMode string

const (
	AsOfMode_Current       AsOfMode = "current"
	AsOfMode_PreviousClose AsOfMode = "previous-close"
)

type PriceSource string

const (
	PriceSource_Memory PriceSource = "memory"
	PriceSource_Cache  PriceSource = "cache"
	PriceSource_CSV    PriceSource = "csv"
	PriceSource_Alpaca PriceSource = "alpaca"
	PriceSource_Yahoo  PriceSource = "yahoo"
)

// Options are recognized by both the point-in-time pipeline and the
// backtest engine.
type Options struct {
	RSIMethod                RSIMethod      `yaml:"rsiMethod" json:"rsiMethod" validate:"omitempty,oneof=wilder simple"`
	DataAdjustment           DataAdjustment `yaml:"dataAdjustment" json:"dataAdjustment" validate:"omitempty,oneof=raw split dividend all"`
	AsOfMode                 AsOfMode       `yaml:"asOfMode" json:"asOfMode" validate:"omitempty,oneof=current previous-close"`
	PriceSource              PriceSource    `yaml:"priceSource" json:"priceSource" validate:"omitempty,oneof=memory cache csv alpaca yahoo"`
	PriceRefresh             bool           `yaml:"priceRefresh" json:"priceRefresh"`
	RequireMarketData        bool           `yaml:"requireMarketData" json:"requireMarketData"`
	RequireCompleteUniverse  bool           `yaml:"requireCompleteUniverse" json:"requireCompleteUniverse"`
	AllowFallbackAllocations bool           `yaml:"allowFallbackAllocations" json:"allowFallbackAllocations"`

	// CalendarSymbol anchors the alignment axis when it has data.
	CalendarSymbol string `yaml:"calendarSymbol" json:"calendarSymbol"`
	// ParityMode evaluates each backtest day on that day's close
	// instead of the prior close.
	ParityMode          bool `yaml:"parityMode" json:"parityMode"`
	WholeShares         bool `yaml:"wholeShares" json:"wholeShares"`
	DisableGroupMetrics bool `yaml:"disableGroupMetrics" json:"disableGroupMetrics"`
	CacheOnly           bool `yaml:"cacheOnly" json:"cacheOnly"`
	Debug               bool `yaml:"debug" json:"debug"`

	// AsOf pins "today" for point-in-time evaluations; zero means now.
	AsOf time.Time `yaml:"-" json:"asOf,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		RSIMethod:      RSIMethod_Wilder,
		DataAdjustment: DataAdjustment_All,
		AsOfMode:       AsOfMode_PreviousClose,
		PriceSource:    PriceSource_Cache,
		CalendarSymbol: "SPY",
	}
}

// WithDefaults fills any zero-valued enum field from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.RSIMethod == "" {
		o.RSIMethod = d.RSIMethod
	}
	if o.DataAdjustment == "" {
		o.DataAdjustment = d.DataAdjustment
	}
	if o.AsOfMode == "" {
		o.AsOfMode = d.AsOfMode
	}
	if o.PriceSource == "" {
		o.PriceSource = d.PriceSource
	}
	if o.CalendarSymbol == "" {
		o.CalendarSymbol = d.CalendarSymbol
	}
	return o
}

type RebalanceFrequency string

const (
	RebalanceFrequency_Daily     RebalanceFrequency = "daily"
	RebalanceFrequency_Weekly    RebalanceFrequency = "weekly"
	RebalanceFrequency_Monthly   RebalanceFrequency = "monthly"
	RebalanceFrequency_Quarterly RebalanceFrequency = "quarterly"
	RebalanceFrequency_Yearly    RebalanceFrequency = "yearly"
	RebalanceFrequency_None      RebalanceFrequency = "none"
	RebalanceFrequency_Threshold RebalanceFrequency = "threshold"
)

func ParseRebalanceFrequency(s string) (RebalanceFrequency, error) {
	switch RebalanceFrequency(s) {
	case RebalanceFrequency_Daily, RebalanceFrequency_Weekly, RebalanceFrequency_Monthly,
		RebalanceFrequency_Quarterly, RebalanceFrequency_Yearly, RebalanceFrequency_None:
		return RebalanceFrequency(s), nil
	}
	return "", fmt.Errorf("unknown rebalance frequency %q", s)
}

type RebalancePolicy struct {
	Frequency RebalanceFrequency
	// only read when Frequency is threshold
	Threshold float64
}

func DailyRebalance() RebalancePolicy {
	return RebalancePolicy{Frequency: RebalanceFrequency_Daily}
}

func ThresholdRebalance(t float64) RebalancePolicy {
	return RebalancePolicy{Frequency: RebalanceFrequency_Threshold, Threshold: t}
}

func (p RebalancePolicy) String() string {
	if p.Frequency == RebalanceFrequency_Threshold {
		return fmt.Sprintf("threshold(%g)", p.Threshold)
	}
	return string(p.Frequency)
}

// IsBoundary reports whether cur starts a new calendar period relative to
// prev under the policy.
func (p RebalancePolicy) IsBoundary(prev, cur time.Time) bool {
	switch p.Frequency {
	case RebalanceFrequency_Daily, "":
		return true
	case RebalanceFrequency_Weekly:
		py, pw := prev.ISOWeek()
		cy, cw := cur.ISOWeek()
		return py != cy || pw != cw
	case RebalanceFrequency_Monthly:
		return prev.Year() != cur.Year() || prev.Month() != cur.Month()
	case RebalanceFrequency_Quarterly:
		return prev.Year() != cur.Year() || (int(prev.Month())-1)/3 != (int(cur.Month())-1)/3
	case RebalanceFrequency_Yearly:
		return prev.Year() != cur.Year()
	}
	return false
}
