package api

import (
	"encoding/json"
	"fmt"
	"time"

	"symphonybacktest/internal/domain"
	l2_service "symphonybacktest/internal/service/l2"
	l3_service "symphonybacktest/internal/service/l3"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type EvaluateRequest struct {
	// the raw head-tagged tree, e.g. ["defsymphony", "name", {}, [...]]
	Script  json.RawMessage `json:"script" binding:"required"`
	Budget  *float64        `json:"budget"`
	AsOf    string          `json:"asOf"`
	Options *domain.Options `json:"options"`
}

func parseScript(script json.RawMessage) (*domain.Strategy, error) {
	return l2_service.ParseStrategy(l2_service.JSONParser{}, script)
}

func (h ApiHandler) evaluate(c *gin.Context) {
	var requestBody EvaluateRequest
	if err := c.ShouldBindJSON(&requestBody); err != nil {
		returnErrorJsonCode(err, c, 400)
		return
	}

	strategy, err := parseScript(requestBody.Script)
	if err != nil {
		returnErrorJson(err, c)
		return
	}

	opts := h.resolveOptions(requestBody.Options)
	if requestBody.AsOf != "" {
		asOf, err := time.Parse(time.DateOnly, requestBody.AsOf)
		if err != nil {
			returnErrorJsonCode(fmt.Errorf("invalid asOf: %w", err), c, 400)
			return
		}
		opts.AsOf = asOf
	}

	in := l3_service.EvaluateInput{
		Strategy: strategy,
		Options:  opts,
	}
	if requestBody.Budget != nil {
		in.Budget = decimal.NewFromFloat(*requestBody.Budget)
	}

	result, err := h.EvaluationService.EvaluateAtPointInTime(c.Request.Context(), in)
	if err != nil {
		returnErrorJson(err, c)
		return
	}

	c.JSON(200, result)
}
