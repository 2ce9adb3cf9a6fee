package httpServer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/KotFed0t/fund_helper/config"
	"github.com/KotFed0t/fund_helper/internal/transport/rest"
	customMW "github.com/KotFed0t/fund_helper/internal/transport/rest/middleware"
	"github.com/gin-gonic/gin"
)

type HTTPServer struct {
	server *http.Server
	cfg    *config.Config
}

func New(cfg *config.Config, ctrl *rest.Controller) *HTTPServer {
	if !cfg.API.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), customMW.RequestID(), customMW.Logger())

	setupRoutes(engine, ctrl)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &HTTPServer{server: server, cfg: cfg}
}

func (s *HTTPServer) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.String("err", err.Error()))
			panic(err)
		}
	}()
	slog.Info("http server started!", slog.String("addr", s.server.Addr))
}

func (s *HTTPServer) Stop() {
	slog.Info("start stopping http server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", slog.String("err", err.Error()))
	}

	slog.Info("http server stopped")
}

func setupRoutes(engine *gin.Engine, ctrl *rest.Controller) {
	v1 := engine.Group("/api/v1")

	v1.POST("/users", ctrl.RegUser)
	v1.GET("/funds/search", ctrl.SearchFunds)

	v1.POST("/holdings", ctrl.CreateHolding)
	v1.GET("/holdings", ctrl.ListHoldings)
	v1.GET("/holdings/:holdingID", ctrl.GetHoldingDetail)
	v1.DELETE("/holdings/:holdingID", ctrl.DeleteHolding)

	v1.POST("/holdings/:holdingID/transactions", ctrl.AddTransaction)
	v1.GET("/holdings/:holdingID/transactions", ctrl.ListTransactions)
	v1.PUT("/transactions/:transactionID", ctrl.UpdateTransaction)
	v1.DELETE("/transactions/:transactionID", ctrl.DeleteTransaction)

	v1.GET("/portfolio/summary", ctrl.PortfolioSummary)
	v1.GET("/portfolio/allocation", ctrl.Allocation)
	v1.GET("/portfolio/top", ctrl.TopHoldings)
	v1.GET("/portfolio/bottom", ctrl.BottomHoldings)
	v1.GET("/portfolio/calendar", ctrl.ProfitCalendar)
	v1.POST("/portfolio/report", ctrl.GenerateReport)
}
