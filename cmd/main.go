package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"paper-trader/config"
	"paper-trader/internal/handlers"
	"paper-trader/internal/metrics"
	"paper-trader/internal/orders"
	"paper-trader/internal/services"
	"paper-trader/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := config.ConnectDB(cfg); err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer config.DisconnectDB()
	logger.Info("connected to MongoDB", zap.String("database", cfg.DatabaseName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Services.
	marketService := services.NewMarketDataService(cfg.AlphaVantageAPIKey, logger)
	hub := services.NewWebSocketHub(logger)
	ledger := services.NewLedger(marketService, logger, cfg.LedgerTimeout)
	authService := services.NewAuthService(logger)

	// Order subsystem.
	m := metrics.New()
	orderStore := store.NewMongoStore(config.GetCollection("orders"))
	engine := orders.NewEngine(orderStore, ledger, hub, m, logger)
	monitor := orders.NewMonitor(orderStore, engine, marketService, hub, m, logger, orders.MonitorConfig{
		Interval:         cfg.MonitorInterval,
		ExpiryInterval:   cfg.ExpiryInterval,
		RecoveryInterval: cfg.RecoveryInterval,
		TriggerGrace:     cfg.TriggerGrace,
		TriggerDeadline:  cfg.TriggerDeadline,
		OracleTimeout:    cfg.OracleTimeout,
	})

	go hub.Run()
	go simulateMarketData(ctx, hub, marketService, logger)
	go monitor.Run(ctx)

	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	marketHandler := handlers.NewMarketHandler(marketService)
	orderHandler := handlers.NewOrderHandler(engine, ledger)
	authHandler := handlers.NewAuthHandler(authService, cfg.JWTSecret)
	authMiddleware := authHandler.AuthMiddleware()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK", "message": "Paper Trader API is running"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Market data routes
	router.GET("/api/stocks/:symbol", marketHandler.GetStockPrice)

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		username := c.Query("username")
		if username == "" {
			username = "Anonymous"
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to upgrade to WebSocket"})
			return
		}

		client := hub.RegisterClient(conn, username)
		go client.WritePump()
		go client.ReadPump()
	})

	// Order routes - require authentication
	router.POST("/api/orders", authMiddleware, orderHandler.CreateOrder)
	router.POST("/api/orders/bracket", authMiddleware, orderHandler.CreateBracketOrder)
	router.POST("/api/orders/:id/cancel", authMiddleware, orderHandler.CancelOrder)
	router.GET("/api/orders", authMiddleware, orderHandler.ListOrders)
	router.GET("/api/portfolio", authMiddleware, orderHandler.GetPortfolio)

	// Auth routes
	router.POST("/api/auth/register", authHandler.Register)
	router.POST("/api/auth/login", authHandler.Login)
	router.GET("/api/auth/me", authMiddleware, authHandler.GetCurrentUser)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// simulateMarketData pushes simulated quote updates to websocket clients.
// The same random walk feeds the trigger monitor's oracle, so dashboards and
// conditional orders observe one consistent price stream.
func simulateMarketData(ctx context.Context, hub *services.WebSocketHub, marketService *services.MarketDataService, logger *zap.Logger) {
	symbols := []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	logger.Info("market data simulation started", zap.Strings("symbols", symbols))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols {
				stock, err := marketService.GetMockStockPrice(symbol)
				if err != nil {
					logger.Warn("simulated quote failed",
						zap.String("symbol", symbol), zap.Error(err))
					continue
				}
				hub.BroadcastStock(*stock)
			}
		}
	}
}
