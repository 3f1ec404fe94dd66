package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"symphonybacktest/internal/domain"
	l3_service "symphonybacktest/internal/service/l3"

	"github.com/gin-gonic/gin"
)

type BacktestRequest struct {
	Script             json.RawMessage `json:"script" binding:"required"`
	BacktestStart      string          `json:"backtestStart" binding:"required"`
	BacktestEnd        string          `json:"backtestEnd" binding:"required"`
	StartCash          float64         `json:"startCash"`
	TransactionCostBps float64         `json:"transactionCostBps"`

	// overrides the script's own rebalance settings when set
	RebalanceFrequency string   `json:"rebalanceFrequency"`
	RebalanceThreshold *float64 `json:"rebalanceThreshold"`

	IncludeBenchmark bool            `json:"includeBenchmark"`
	BenchmarkSymbol  string          `json:"benchmarkSymbol"`
	MaxDays          int             `json:"maxDays"`
	Options          *domain.Options `json:"options"`
}

func rebalanceOverride(frequency string, threshold *float64) (*domain.RebalancePolicy, error) {
	if threshold != nil {
		p := domain.ThresholdRebalance(*threshold)
		return &p, nil
	}
	if frequency == "" {
		return nil, nil
	}
	f, err := domain.ParseRebalanceFrequency(strings.ToLower(strings.TrimPrefix(frequency, ":")))
	if err != nil {
		return nil, err
	}
	return &domain.RebalancePolicy{Frequency: f}, nil
}

func (h ApiHandler) backtest(c *gin.Context) {
	var requestBody BacktestRequest
	if err := c.ShouldBindJSON(&requestBody); err != nil {
		returnErrorJsonCode(err, c, 400)
		return
	}

	backtestStartDate, err := time.Parse(time.DateOnly, requestBody.BacktestStart)
	if err != nil {
		returnErrorJsonCode(err, c, 400)
		return
	}
	backtestEndDate, err := time.Parse(time.DateOnly, requestBody.BacktestEnd)
	if err != nil {
		returnErrorJsonCode(err, c, 400)
		return
	}
	if backtestEndDate.Before(backtestStartDate) {
		returnErrorJsonCode(fmt.Errorf("end date cannot be before start date"), c, 400)
		return
	}

	rebalance, err := rebalanceOverride(requestBody.RebalanceFrequency, requestBody.RebalanceThreshold)
	if err != nil {
		returnErrorJsonCode(err, c, 400)
		return
	}

	strategy, err := parseScript(requestBody.Script)
	if err != nil {
		returnErrorJson(err, c)
		return
	}

	result, err := h.BacktestService.RunBacktest(c.Request.Context(), l3_service.BacktestInput{
		Strategy:           strategy,
		Start:              backtestStartDate,
		End:                backtestEndDate,
		InitialCapital:     requestBody.StartCash,
		TransactionCostBps: requestBody.TransactionCostBps,
		Options:            h.resolveOptions(requestBody.Options),
		Rebalance:          rebalance,
		IncludeBenchmark:   requestBody.IncludeBenchmark,
		BenchmarkSymbol:    requestBody.BenchmarkSymbol,
		MaxDays:            requestBody.MaxDays,
	})
	if err != nil {
		returnErrorJson(err, c)
		return
	}

	c.JSON(200, result)
}
