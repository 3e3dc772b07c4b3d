package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"paper-trader/internal/services"
)

type MarketHandler struct {
	marketService *services.MarketDataService
}

func NewMarketHandler(marketService *services.MarketDataService) *MarketHandler {
	return &MarketHandler{marketService: marketService}
}

func (h *MarketHandler) GetStockPrice(c *gin.Context) {
	symbol := c.Param("symbol")

	stock, err := h.marketService.GetStockPrice(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stock)
}
