// Package api is the HTTP surface of the liquidation engine.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/liquidation"
	"github.com/assetflow/liquidation-engine/internal/liquidity"
	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// Handler carries the route handlers. Authentication sits in front of the
// engine; the authenticated user arrives in the X-User-ID header.
type Handler struct {
	liquidations *liquidation.Service
	providers    *liquidity.ProviderService
	logger       *zap.Logger
}

func NewHandler(liquidations *liquidation.Service, providers *liquidity.ProviderService, logger *zap.Logger) *Handler {
	return &Handler{liquidations: liquidations, providers: providers, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/liquidations", h.createLiquidation)
		v1.GET("/liquidations/:id", h.getLiquidation)
		v1.POST("/liquidations/:id/cancel", h.cancelLiquidation)
		v1.POST("/liquidations/:id/multisig-approvals", h.approveMultiSignature)

		v1.POST("/compliance/checks/:id/review", h.reviewCheck)
		v1.POST("/transactions/:id/reverse", h.reverseTransaction)

		v1.POST("/providers", h.registerProvider)
		v1.GET("/providers/:id", h.getProvider)
		v1.POST("/providers/:id/approve", h.approveProvider)
		v1.POST("/providers/:id/suspend", h.suspendProvider)
		v1.PUT("/providers/:id/availability", h.setProviderAvailability)
	}
	return r
}

type createLiquidationRequest struct {
	IdempotencyKey     string `json:"idempotency_key" binding:"max=128"`
	AssetSymbol        string `json:"asset_symbol" binding:"required,alphanum,max=16"`
	Amount             string `json:"amount" binding:"required,decimal_positive"`
	OutputType         string `json:"output_type" binding:"required,oneof=fiat stablecoin crypto"`
	OutputSymbol       string `json:"output_symbol" binding:"required,alphanum,max=16"`
	DestinationType    string `json:"destination_type" binding:"required,oneof=bank_account wallet internal_account"`
	DestinationAddress string `json:"destination_address" binding:"required,max=256"`
	DestinationCountry string `json:"destination_country" binding:"omitempty,iso3166_1_alpha2"`
}

func (h *Handler) createLiquidation(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var body createLiquidationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": "amount is not a valid decimal"})
		return
	}

	req, err := h.liquidations.Create(c.Request.Context(), liquidation.CreateParams{
		UserID:             userID,
		IdempotencyKey:     body.IdempotencyKey,
		AssetSymbol:        body.AssetSymbol,
		Amount:             amount,
		OutputType:         models.OutputType(body.OutputType),
		OutputSymbol:       body.OutputSymbol,
		DestinationType:    models.DestinationType(body.DestinationType),
		DestinationAddress: body.DestinationAddress,
		DestinationCountry: body.DestinationCountry,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	// The workflow runs asynchronously; the client polls the status endpoint.
	go func(id uuid.UUID) {
		if err := h.liquidations.Process(context.Background(), id); err != nil {
			h.logger.Warn("liquidation workflow stopped",
				zap.String("request_id", id.String()), zap.Error(err))
		}
	}(req.ID)

	c.JSON(http.StatusAccepted, req)
}

func (h *Handler) getLiquidation(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.liquidations.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=512"`
}

func (h *Handler) cancelLiquidation(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var body cancelRequest
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": err.Error()})
		return
	}
	if err := h.liquidations.Cancel(c.Request.Context(), id, body.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancellation accepted"})
}

func (h *Handler) approveMultiSignature(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	approver, ok := h.userID(c)
	if !ok {
		return
	}
	if err := h.liquidations.ApproveMultiSignature(c.Request.Context(), id, approver); err != nil {
		h.respondError(c, err)
		return
	}

	go func() {
		if err := h.liquidations.Process(context.Background(), id); err != nil {
			h.logger.Warn("liquidation workflow stopped",
				zap.String("request_id", id.String()), zap.Error(err))
		}
	}()
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

type reviewRequest struct {
	Result string `json:"result" binding:"required,oneof=passed failed"`
	Notes  string `json:"notes" binding:"required,max=2048"`
}

func (h *Handler) reviewCheck(c *gin.Context) {
	checkID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	reviewer, ok := h.userID(c)
	if !ok {
		return
	}
	var body reviewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": err.Error()})
		return
	}
	err := h.liquidations.SubmitComplianceReview(c.Request.Context(), checkID, reviewer,
		models.CheckResult(body.Result), body.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "review recorded"})
}

type reverseRequest struct {
	Reason string `json:"reason" binding:"required,max=512"`
}

func (h *Handler) reverseTransaction(c *gin.Context) {
	txID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var body reverseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": err.Error()})
		return
	}
	if err := h.liquidations.ReverseTransaction(c.Request.Context(), txID, body.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reversed"})
}

type registerProviderRequest struct {
	Name                     string   `json:"name" binding:"required,max=128"`
	SupportedAssets          []string `json:"supported_assets" binding:"required,min=1,dive,alphanum,max=16"`
	SupportedCurrencies      []string `json:"supported_currencies" binding:"required,min=1,dive,alphanum,max=16"`
	MinimumTransactionAmount string   `json:"minimum_transaction_amount" binding:"required,decimal"`
	MaximumTransactionAmount string   `json:"maximum_transaction_amount" binding:"required,decimal"`
	FeePercentage            string   `json:"fee_percentage" binding:"required,decimal"`
	AvailableLiquidity       string   `json:"available_liquidity" binding:"required,decimal"`
	Rating                   float64  `json:"rating" binding:"gte=0,lte=5"`
}

func (h *Handler) registerProvider(c *gin.Context) {
	var body registerProviderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": err.Error()})
		return
	}
	params := liquidity.RegisterParams{
		Name:                body.Name,
		SupportedAssets:     body.SupportedAssets,
		SupportedCurrencies: body.SupportedCurrencies,
		Rating:              body.Rating,
	}
	var err error
	if params.MinimumTransactionAmount, err = decimal.NewFromString(body.MinimumTransactionAmount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": "minimum_transaction_amount is not a valid decimal"})
		return
	}
	if params.MaximumTransactionAmount, err = decimal.NewFromString(body.MaximumTransactionAmount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": "maximum_transaction_amount is not a valid decimal"})
		return
	}
	if params.FeePercentage, err = decimal.NewFromString(body.FeePercentage); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": "fee_percentage is not a valid decimal"})
		return
	}
	if params.AvailableLiquidity, err = decimal.NewFromString(body.AvailableLiquidity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": "available_liquidity is not a valid decimal"})
		return
	}

	p, err := h.providers.Register(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) getProvider(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.providers.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) approveProvider(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.providers.Approve(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (h *Handler) suspendProvider(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.providers.Suspend(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "suspended"})
}

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

func (h *Handler) setProviderAvailability(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var body availabilityRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": err.Error()})
		return
	}
	if err := h.providers.SetAvailability(c.Request.Context(), id, *body.Available); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": *body.Available})
}

func (h *Handler) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.CodeValidation, "message": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) userID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": apperrors.CodeValidation, "message": "missing or invalid X-User-ID header"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"code":      apperrors.CodeOf(err),
		"message":   err.Error(),
		"retryable": apperrors.IsRetryable(err),
	})
}
