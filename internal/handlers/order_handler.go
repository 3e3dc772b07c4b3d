package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"paper-trader/internal/models"
	"paper-trader/internal/orders"
	"paper-trader/internal/services"
	"paper-trader/internal/store"
)

type OrderHandler struct {
	engine *orders.Engine
	ledger *services.Ledger
}

func NewOrderHandler(engine *orders.Engine, ledger *services.Ledger) *OrderHandler {
	return &OrderHandler{engine: engine, ledger: ledger}
}

type CreateOrderRequest struct {
	Symbol           string     `json:"symbol" binding:"required"`
	Side             string     `json:"side" binding:"required,oneof=buy sell"`
	OrderType        string     `json:"orderType" binding:"required,oneof=market limit stop stop_limit"`
	Quantity         int        `json:"quantity" binding:"required,min=1"`
	LimitPrice       float64    `json:"limitPrice,omitempty"`
	TriggerPrice     float64    `json:"triggerPrice,omitempty"`
	TriggerDirection string     `json:"triggerDirection,omitempty" binding:"omitempty,oneof=falls rises"`
	TimeInForce      string     `json:"timeInForce,omitempty" binding:"omitempty,oneof=gtc gtd"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
}

func (r CreateOrderRequest) toEngineRequest(portfolioID string) orders.CreateOrderRequest {
	req := orders.CreateOrderRequest{
		PortfolioID:      portfolioID,
		Symbol:           r.Symbol,
		OrderType:        models.OrderType(r.OrderType),
		Side:             models.OrderSide(r.Side),
		Quantity:         r.Quantity,
		LimitPrice:       r.LimitPrice,
		TriggerPrice:     r.TriggerPrice,
		TriggerDirection: models.TriggerDirection(r.TriggerDirection),
		TimeInForce:      models.TimeInForce(r.TimeInForce),
	}
	if r.ExpiresAt != nil {
		req.ExpiresAt = *r.ExpiresAt
	}
	return req
}

type CreateBracketRequest struct {
	Entry                  CreateOrderRequest `json:"entry" binding:"required"`
	StopLossTriggerPrice   float64            `json:"stopLossTriggerPrice" binding:"required,gt=0"`
	TakeProfitTriggerPrice float64            `json:"takeProfitTriggerPrice" binding:"required,gt=0"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	portfolioID := c.GetString("userID")
	if portfolioID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.engine.CreateOrder(c.Request.Context(), req.toEngineRequest(portfolioID))
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *OrderHandler) CreateBracketOrder(c *gin.Context) {
	portfolioID := c.GetString("userID")
	if portfolioID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req CreateBracketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bracket, err := h.engine.CreateBracketOrder(
		c.Request.Context(),
		req.Entry.toEngineRequest(portfolioID),
		req.StopLossTriggerPrice,
		req.TakeProfitTriggerPrice,
	)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, bracket)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	portfolioID := c.GetString("userID")
	if portfolioID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	orderID := c.Param("id")

	var req CancelOrderRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.engine.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondOrderError(c, err)
		return
	}
	if order.PortfolioID != portfolioID {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	cancelled, err := h.engine.CancelOrder(c.Request.Context(), orderID, req.Reason)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": cancelled})
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	portfolioID := c.GetString("userID")
	if portfolioID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	status := models.OrderStatus(c.Query("status"))
	switch status {
	case "", models.StatusPending, models.StatusTriggered, models.StatusExecuted, models.StatusCancelled, models.StatusExpired:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}

	list, err := h.engine.ListOrders(c.Request.Context(), portfolioID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *OrderHandler) GetPortfolio(c *gin.Context) {
	portfolioID := c.GetString("userID")
	if portfolioID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	ctx := c.Request.Context()

	positions, err := h.ledger.Positions(ctx, portfolioID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cash, err := h.ledger.CashBalance(ctx, portfolioID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	value, err := h.ledger.PortfolioValue(ctx, portfolioID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"positions":   positions,
		"cashBalance": cash,
		"totalAssets": cash + value,
	})
}

// respondOrderError maps engine errors onto HTTP statuses: validation and
// execution rejections are the client's problem, state conflicts tell the
// caller to re-fetch, unknown ids are 404.
func respondOrderError(c *gin.Context, err error) {
	var validationErr *orders.ValidationError
	var stateErr *orders.InvalidStateError
	var execErr *orders.ExecutionError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{"error": stateErr.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "order changed concurrently, re-fetch its status"})
	case errors.As(err, &execErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": execErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
