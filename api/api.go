package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	l3_service "symphonybacktest/internal/service/l3"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type ApiHandler struct {
	EvaluationService l3_service.EvaluationService
	BacktestService   l3_service.BacktestService
	// applied when a request carries no options of its own
	Options domain.Options
}

func (m ApiHandler) InitializeRouterEngine() *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())
	router.Use(m.requestContextMiddleware)

	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(200, map[string]string{"message": "symphony backtest"})
	})
	router.POST("/evaluate", m.evaluate)
	router.POST("/backtest", m.backtest)

	return router
}

func (m ApiHandler) StartApi(port int) error {
	return m.InitializeRouterEngine().Run(fmt.Sprintf(":%d", port))
}

// statusForError maps evaluation failures onto HTTP codes: bad scripts
// and infeasible ranges are the caller's fault, missing market data is
// unprocessable, and an empty allocation conflicts with the request to
// produce one.
func statusForError(err error) int {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusBadRequest
	}
	var evalErr *domain.EvalError
	if !errors.As(err, &evalErr) {
		return http.StatusInternalServerError
	}
	switch evalErr.Kind {
	case domain.ErrorKind_ParseFailure, domain.ErrorKind_BacktestRangeTooEarly, domain.ErrorKind_BacktestRangeTooLarge:
		return http.StatusBadRequest
	case domain.ErrorKind_InsufficientMarketData, domain.ErrorKind_AlignmentFailure:
		return http.StatusUnprocessableEntity
	case domain.ErrorKind_EmptyAllocation:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func returnErrorJson(err error, c *gin.Context) {
	returnErrorJsonCode(err, c, statusForError(err))
}

func returnErrorJsonCode(err error, c *gin.Context, code int) {
	log := logger.FromContext(c.Request.Context())
	if code >= 500 {
		log.Errorf("request failed: %s", err.Error())
	} else {
		log.Warnf("request rejected: %s", err.Error())
	}

	body := gin.H{"error": err.Error()}
	var evalErr *domain.EvalError
	if errors.As(err, &evalErr) {
		body["details"] = evalErr
	}
	c.AbortWithStatusJSON(code, body)
}

// requestContextMiddleware gives each request an id and a logger
// carrying it, then logs the outcome.
func (m ApiHandler) requestContextMiddleware(c *gin.Context) {
	requestID := uuid.New()
	c.Set("requestID", requestID.String())
	log := logger.FromContext(c.Request.Context()).With(
		"requestID", requestID.String(),
		"route", c.Request.URL.Path,
	)
	c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), log))

	start := time.Now().UTC()
	c.Next()

	log.Infow("request completed",
		"method", c.Request.Method,
		"status", c.Writer.Status(),
		"durationMs", time.Since(start).Milliseconds(),
		"ip", c.ClientIP(),
	)
}

func (m ApiHandler) resolveOptions(requested *domain.Options) domain.Options {
	if requested == nil {
		return m.Options
	}
	return *requested
}
