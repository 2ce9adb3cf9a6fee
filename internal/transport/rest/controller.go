package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const AuthIDHeader = "X-Auth-ID"

const dateLayout = "2006-01-02"

type FundHelperService interface {
	RegUser(ctx context.Context, authID string) (int64, error)
	GetUserID(ctx context.Context, authID string) (int64, error)
	SearchFunds(ctx context.Context, query string) ([]model.FundSearchResult, error)
	CreateHolding(ctx context.Context, userID int64, fundCode string) (model.Holding, error)
	ListHoldings(ctx context.Context, userID int64) ([]model.Holding, error)
	GetHoldingDetail(ctx context.Context, userID, holdingID int64) (model.CostBasisResult, error)
	DeleteHolding(ctx context.Context, userID, holdingID int64) error
	AddTransaction(ctx context.Context, userID int64, tx model.Transaction) (model.Transaction, error)
	ListTransactions(ctx context.Context, userID, holdingID int64) ([]model.Transaction, error)
	UpdateTransaction(ctx context.Context, userID, transactionID int64, changes model.TransactionChanges, expectedVersion int64) (model.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, transactionID int64, expectedVersion int64) error
	GetPortfolioSummary(ctx context.Context, userID int64) (model.PortfolioSummary, error)
	GetAllocation(ctx context.Context, userID int64) ([]model.AllocationSlice, error)
	GetTopHoldings(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error)
	GetBottomHoldings(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error)
	GetProfitCalendar(ctx context.Context, userID int64, year int, month time.Month) ([]model.CalendarDay, error)
	GenerateReport(ctx context.Context, userID int64) (string, error)
}

type Controller struct {
	service FundHelperService
}

func NewController(service FundHelperService) *Controller {
	return &Controller{service: service}
}

// userID resolves the caller from the auth header. Writes the error response
// itself, callers just return on !ok.
func (ctrl *Controller) userID(c *gin.Context) (int64, bool) {
	authID := c.GetHeader(AuthIDHeader)
	if authID == "" {
		respondError(c, http.StatusUnauthorized, "missing auth header")
		return 0, false
	}

	userID, err := ctrl.service.GetUserID(c.Request.Context(), authID)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "unknown user")
		return 0, false
	}

	return userID, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusUnprocessableEntity, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (ctrl *Controller) RegUser(c *gin.Context) {
	var req struct {
		AuthID string `json:"authId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "authId is required")
		return
	}

	userID, err := ctrl.service.RegUser(c.Request.Context(), req.AuthID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, gin.H{"userId": userID})
}

func (ctrl *Controller) SearchFunds(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		respondError(c, http.StatusUnprocessableEntity, "query is required")
		return
	}

	results, err := ctrl.service.SearchFunds(c.Request.Context(), query)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, results)
}

func (ctrl *Controller) CreateHolding(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}

	var req struct {
		FundCode string `json:"fundCode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "fundCode is required")
		return
	}

	holding, err := ctrl.service.CreateHolding(c.Request.Context(), userID, req.FundCode)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, holdingResponse(holding))
}

func (ctrl *Controller) ListHoldings(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}

	holdings, err := ctrl.service.ListHoldings(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(holdings))
	for _, h := range holdings {
		resp = append(resp, holdingResponse(h))
	}

	respondOK(c, resp)
}

func (ctrl *Controller) GetHoldingDetail(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}
	holdingID, ok := pathID(c, "holdingID")
	if !ok {
		return
	}

	detail, err := ctrl.service.GetHoldingDetail(c.Request.Context(), userID, holdingID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, costBasisResponse(detail))
}

func (ctrl *Controller) DeleteHolding(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}
	holdingID, ok := pathID(c, "holdingID")
	if !ok {
		return
	}

	if err := ctrl.service.DeleteHolding(c.Request.Context(), userID, holdingID); err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, nil)
}

type transactionRequest struct {
	Type          string          `json:"type" binding:"required"`
	Reinvest      bool            `json:"reinvest"`
	Date          string          `json:"date" binding:"required"`
	Shares        decimal.Decimal `json:"shares"`
	PricePerShare decimal.Decimal `json:"pricePerShare"`
	Fee           decimal.Decimal `json:"fee"`
}

func (ctrl *Controller) AddTransaction(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}
	holdingID, ok := pathID(c, "holdingID")
	if !ok {
		return
	}

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid transaction body")
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "date must be YYYY-MM-DD")
		return
	}

	tx := model.Transaction{
		HoldingID:     holdingID,
		Type:          model.TxType(req.Type),
		Reinvest:      req.Reinvest,
		Date:          date,
		Shares:        req.Shares,
		PricePerShare: req.PricePerShare,
		Fee:           req.Fee,
	}

	stored, err := ctrl.service.AddTransaction(c.Request.Context(), userID, tx)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, transactionResponse(stored))
}

func (ctrl *Controller) ListTransactions(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}
	holdingID, ok := pathID(c, "holdingID")
	if !ok {
		return
	}

	txs, err := ctrl.service.ListTransactions(c.Request.Context(), userID, holdingID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, transactionResponse(tx))
	}

	respondOK(c, resp)
}

type transactionChangesRequest struct {
	Type            *string          `json:"type"`
	Reinvest        *bool            `json:"reinvest"`
	Date            *string          `json:"date"`
	Shares          *decimal.Decimal `json:"shares"`
	PricePerShare   *decimal.Decimal `json:"pricePerShare"`
	Fee             *decimal.Decimal `json:"fee"`
	ExpectedVersion int64            `json:"expectedVersion"`
}

func (ctrl *Controller) UpdateTransaction(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}
	transactionID, ok := pathID(c, "transactionID")
	if !ok {
		return
	}

	var req transactionChangesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid transaction body")
		return
	}

	changes := model.TransactionChanges{
		Reinvest:      req.Reinvest,
		Shares:        req.Shares,
		PricePerShare: req.PricePerShare,
		Fee:           req.Fee,
	}
	if req.Type != nil {
		txType := model.TxType(*req.Type)
		changes.Type = &txType
	}
	if req.Date != nil {
		date, err := time.Parse(dateLayout, *req.Date)
		if err != nil {
			respondError(c, http.StatusUnprocessableEntity, "date must be YYYY-MM-DD")
			return
		}
		changes.Date = &date
	}

	updated, err := ctrl.service.UpdateTransaction(c.Request.Context(), userID, transactionID, changes, req.ExpectedVersion)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, transactionResponse(updated))
}

func (ctrl *Controller) DeleteTransaction(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}
	transactionID, ok := pathID(c, "transactionID")
	if !ok {
		return
	}

	expectedVersion := int64(-1)
	if raw := c.Query("expectedVersion"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(c, http.StatusUnprocessableEntity, "invalid expectedVersion")
			return
		}
		expectedVersion = v
	}

	if err := ctrl.service.DeleteTransaction(c.Request.Context(), userID, transactionID, expectedVersion); err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, nil)
}

func (ctrl *Controller) PortfolioSummary(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}

	summary, err := ctrl.service.GetPortfolioSummary(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, gin.H{
		"totalValue":   summary.TotalValue,
		"totalCost":    summary.TotalCost,
		"totalProfit":  summary.TotalProfit,
		"profitRate":   summary.ProfitRate,
		"holdingCount": summary.HoldingCount,
		"asOf":         summary.AsOf,
	})
}

func (ctrl *Controller) Allocation(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}

	allocation, err := ctrl.service.GetAllocation(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(allocation))
	for _, slice := range allocation {
		resp = append(resp, gin.H{
			"category": slice.Category,
			"value":    slice.Value,
			"weight":   slice.Weight,
		})
	}

	respondOK(c, resp)
}

func (ctrl *Controller) TopHoldings(c *gin.Context) {
	ctrl.rankedHoldings(c, ctrl.service.GetTopHoldings)
}

func (ctrl *Controller) BottomHoldings(c *gin.Context) {
	ctrl.rankedHoldings(c, ctrl.service.GetBottomHoldings)
}

func (ctrl *Controller) rankedHoldings(c *gin.Context, fetch func(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error)) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}

	n := -1
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusUnprocessableEntity, "invalid n")
			return
		}
		n = parsed
	}

	results, err := fetch(c.Request.Context(), userID, n)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(results))
	for _, res := range results {
		resp = append(resp, costBasisResponse(res))
	}

	respondOK(c, resp)
}

func (ctrl *Controller) ProfitCalendar(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}

	year, err := strconv.Atoi(c.Query("year"))
	if err != nil || year < 1970 {
		respondError(c, http.StatusUnprocessableEntity, "invalid year")
		return
	}

	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		respondError(c, http.StatusUnprocessableEntity, "invalid month")
		return
	}

	days, err := ctrl.service.GetProfitCalendar(c.Request.Context(), userID, year, time.Month(month))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(days))
	for _, day := range days {
		resp = append(resp, gin.H{
			"date":   day.Date.Format(dateLayout),
			"profit": day.Profit,
		})
	}

	respondOK(c, resp)
}

func (ctrl *Controller) GenerateReport(c *gin.Context) {
	userID, ok := ctrl.userID(c)
	if !ok {
		return
	}

	rqID := utils.GetRequestIDFromCtx(c.Request.Context())

	link, err := ctrl.service.GenerateReport(c.Request.Context(), userID)
	if err != nil {
		slog.Error("got error from service.GenerateReport", slog.String("rqID", rqID), slog.String("err", err.Error()))
		respondServiceError(c, err)
		return
	}

	respondOK(c, gin.H{"downloadLink": link})
}

func holdingResponse(h model.Holding) gin.H {
	return gin.H{
		"id":        h.ID,
		"fundCode":  h.FundCode,
		"createdAt": h.CreatedAt,
		"version":   h.Version,
	}
}

func transactionResponse(tx model.Transaction) gin.H {
	return gin.H{
		"id":            tx.ID,
		"holdingId":     tx.HoldingID,
		"type":          tx.Type,
		"reinvest":      tx.Reinvest,
		"date":          tx.Date.Format(dateLayout),
		"shares":        tx.Shares,
		"pricePerShare": tx.PricePerShare,
		"fee":           tx.Fee,
		"createdAt":     tx.CreatedAt,
	}
}

func costBasisResponse(res model.CostBasisResult) gin.H {
	return gin.H{
		"holdingId":        res.HoldingID,
		"fundCode":         res.FundCode,
		"shares":           res.Shares,
		"avgCost":          res.AvgCost,
		"costBasis":        res.CostBasis,
		"marketValue":      res.MarketValue,
		"unrealizedProfit": res.UnrealizedProfit,
		"realizedProfit":   res.RealizedProfit,
		"profitRate":       res.ProfitRate,
		"asOf":             res.AsOf,
	}
}
