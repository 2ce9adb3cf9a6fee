package fundHelperService

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/KotFed0t/fund_helper/data/repository"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/service"
	"github.com/KotFed0t/fund_helper/utils"
)

type Repository interface {
	RegUser(ctx context.Context, authID string) (userID int64, err error)
	GetUserID(ctx context.Context, authID string) (userID int64, err error)
	UpsertFund(ctx context.Context, fund model.Fund) error
	GetFunds(ctx context.Context, codes []string) ([]model.Fund, error)
	GetDistinctFundCodes(ctx context.Context) ([]string, error)
	CreateHolding(ctx context.Context, userID int64, fundCode string) (holdingID int64, err error)
	GetHolding(ctx context.Context, holdingID int64) (model.Holding, error)
	GetHoldingsByUser(ctx context.Context, userID int64) ([]model.Holding, error)
	DeleteHolding(ctx context.Context, holdingID int64) error
	GetTransaction(ctx context.Context, transactionID int64) (model.Transaction, error)
}

type Valuation interface {
	Estimate(ctx context.Context, code string) (model.FundEstimate, error)
	Search(ctx context.Context, query string) ([]model.FundSearchResult, error)
}

type Ledger interface {
	Append(ctx context.Context, tx model.Transaction) (model.Transaction, error)
	List(ctx context.Context, holdingID int64) ([]model.Transaction, error)
	Update(ctx context.Context, transactionID int64, changes model.TransactionChanges, expectedVersion int64) (model.Transaction, error)
	Remove(ctx context.Context, transactionID int64, expectedVersion int64) error
}

type Calculator interface {
	Compute(ctx context.Context, holding model.Holding, txs []model.Transaction, asOf time.Time) (model.CostBasisResult, error)
}

type Aggregator interface {
	Summary(ctx context.Context, userID int64) (model.PortfolioSummary, error)
	Allocation(ctx context.Context, userID int64) ([]model.AllocationSlice, error)
	TopHoldings(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error)
	BottomHoldings(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error)
	ProfitCalendar(ctx context.Context, userID int64, year int, month time.Month) ([]model.CalendarDay, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, report model.PortfolioReport) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
	DeleteOldFiles(ctx context.Context) error
}

type FundHelperService struct {
	repo       Repository
	valuation  Valuation
	ledger     Ledger
	calc       Calculator
	aggregator Aggregator
	reports    ReportGenerator
	storage    CloudStorage
}

func New(
	repo Repository,
	valuation Valuation,
	ledger Ledger,
	calc Calculator,
	aggregator Aggregator,
	reports ReportGenerator,
	storage CloudStorage,
) *FundHelperService {
	return &FundHelperService{
		repo:       repo,
		valuation:  valuation,
		ledger:     ledger,
		calc:       calc,
		aggregator: aggregator,
		reports:    reports,
		storage:    storage,
	}
}

func (s *FundHelperService) RegUser(ctx context.Context, authID string) (int64, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.RegUser"

	slog.Debug("RegUser start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("RegUser finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	userID, err := s.repo.RegUser(ctx, authID)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return s.repo.GetUserID(ctx, authID)
		}
		slog.Error("got error from repo.RegUser", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return 0, err
	}

	return userID, nil
}

func (s *FundHelperService) GetUserID(ctx context.Context, authID string) (int64, error) {
	userID, err := s.repo.GetUserID(ctx, authID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, service.ErrNotFound
		}
		return 0, err
	}
	return userID, nil
}

func (s *FundHelperService) SearchFunds(ctx context.Context, query string) ([]model.FundSearchResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.SearchFunds"

	slog.Debug("SearchFunds start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		slog.Debug("SearchFunds finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	}()

	results, err := s.valuation.Search(ctx, query)
	if err != nil {
		slog.Error("got error from valuation.Search", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	return results, nil
}

func (s *FundHelperService) CreateHolding(ctx context.Context, userID int64, fundCode string) (model.Holding, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.CreateHolding"

	slog.Debug("CreateHolding start", slog.String("rqID", rqID), slog.String("op", op), slog.String("fundCode", fundCode))
	defer func() {
		slog.Debug("CreateHolding finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("fundCode", fundCode))
	}()

	fund, err := s.resolveFund(ctx, fundCode)
	if err != nil {
		slog.Error("can't resolve fund", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Holding{}, err
	}

	if err := s.repo.UpsertFund(ctx, fund); err != nil {
		slog.Error("got error from repo.UpsertFund", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Holding{}, err
	}

	holdingID, err := s.repo.CreateHolding(ctx, userID, fundCode)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return model.Holding{}, fmt.Errorf("%w: holding for fund %s already exists", service.ErrValidation, fundCode)
		}
		slog.Error("got error from repo.CreateHolding", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Holding{}, err
	}

	return s.repo.GetHolding(ctx, holdingID)
}

// resolveFund finds fund metadata by code: search gives name and category,
// the estimate endpoint is the existence fallback when search is down.
func (s *FundHelperService) resolveFund(ctx context.Context, fundCode string) (model.Fund, error) {
	results, err := s.valuation.Search(ctx, fundCode)
	if err == nil {
		for _, res := range results {
			if res.Code == fundCode {
				return model.Fund{Code: res.Code, Name: res.Name, Category: res.Category}, nil
			}
		}
	}

	estimate, err := s.valuation.Estimate(ctx, fundCode)
	if err != nil {
		if errors.Is(err, service.ErrDataUnavailable) {
			return model.Fund{}, fmt.Errorf("%w: fund %s", service.ErrNotFound, fundCode)
		}
		return model.Fund{}, err
	}

	return model.Fund{Code: estimate.Code, Name: estimate.Name}, nil
}

func (s *FundHelperService) ListHoldings(ctx context.Context, userID int64) ([]model.Holding, error) {
	return s.repo.GetHoldingsByUser(ctx, userID)
}

func (s *FundHelperService) DeleteHolding(ctx context.Context, userID, holdingID int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.DeleteHolding"

	slog.Debug("DeleteHolding start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("holdingID", holdingID))
	defer func() {
		slog.Debug("DeleteHolding finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("holdingID", holdingID))
	}()

	if _, err := s.ownedHolding(ctx, userID, holdingID); err != nil {
		return err
	}

	err := s.repo.DeleteHolding(ctx, holdingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.ErrNotFound
		}
		slog.Error("got error from repo.DeleteHolding", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}

func (s *FundHelperService) GetHoldingDetail(ctx context.Context, userID, holdingID int64) (model.CostBasisResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.GetHoldingDetail"

	slog.Debug("GetHoldingDetail start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("holdingID", holdingID))
	defer func() {
		slog.Debug("GetHoldingDetail finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("holdingID", holdingID))
	}()

	holding, err := s.ownedHolding(ctx, userID, holdingID)
	if err != nil {
		return model.CostBasisResult{}, err
	}

	txs, err := s.ledger.List(ctx, holdingID)
	if err != nil {
		slog.Error("got error from ledger.List", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.CostBasisResult{}, err
	}

	return s.calc.Compute(ctx, holding, txs, time.Time{})
}

func (s *FundHelperService) AddTransaction(ctx context.Context, userID int64, tx model.Transaction) (model.Transaction, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.AddTransaction"

	slog.Debug("AddTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("holdingID", tx.HoldingID))
	defer func() {
		slog.Debug("AddTransaction finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("holdingID", tx.HoldingID))
	}()

	if _, err := s.ownedHolding(ctx, userID, tx.HoldingID); err != nil {
		return model.Transaction{}, err
	}

	stored, err := s.ledger.Append(ctx, tx)
	if err != nil {
		slog.Error("got error from ledger.Append", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Transaction{}, err
	}

	return stored, nil
}

func (s *FundHelperService) ListTransactions(ctx context.Context, userID, holdingID int64) ([]model.Transaction, error) {
	if _, err := s.ownedHolding(ctx, userID, holdingID); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, holdingID)
}

func (s *FundHelperService) UpdateTransaction(ctx context.Context, userID, transactionID int64, changes model.TransactionChanges, expectedVersion int64) (model.Transaction, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.UpdateTransaction"

	slog.Debug("UpdateTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	defer func() {
		slog.Debug("UpdateTransaction finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	}()

	if err := s.checkTransactionOwner(ctx, userID, transactionID); err != nil {
		return model.Transaction{}, err
	}

	updated, err := s.ledger.Update(ctx, transactionID, changes, expectedVersion)
	if err != nil {
		slog.Error("got error from ledger.Update", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Transaction{}, err
	}

	return updated, nil
}

func (s *FundHelperService) DeleteTransaction(ctx context.Context, userID, transactionID int64, expectedVersion int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.DeleteTransaction"

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	defer func() {
		slog.Debug("DeleteTransaction finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	}()

	if err := s.checkTransactionOwner(ctx, userID, transactionID); err != nil {
		return err
	}

	err := s.ledger.Remove(ctx, transactionID, expectedVersion)
	if err != nil {
		slog.Error("got error from ledger.Remove", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}

func (s *FundHelperService) ownedHolding(ctx context.Context, userID, holdingID int64) (model.Holding, error) {
	holding, err := s.repo.GetHolding(ctx, holdingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Holding{}, service.ErrNotFound
		}
		return model.Holding{}, err
	}
	if holding.UserID != userID {
		// ownership leaks nothing: foreign holdings look absent
		return model.Holding{}, service.ErrNotFound
	}
	return holding, nil
}

func (s *FundHelperService) checkTransactionOwner(ctx context.Context, userID, transactionID int64) error {
	tx, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.ErrNotFound
		}
		return err
	}
	_, err = s.ownedHolding(ctx, userID, tx.HoldingID)
	return err
}

func (s *FundHelperService) GetPortfolioSummary(ctx context.Context, userID int64) (model.PortfolioSummary, error) {
	return s.aggregator.Summary(ctx, userID)
}

func (s *FundHelperService) GetAllocation(ctx context.Context, userID int64) ([]model.AllocationSlice, error) {
	return s.aggregator.Allocation(ctx, userID)
}

func (s *FundHelperService) GetTopHoldings(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error) {
	return s.aggregator.TopHoldings(ctx, userID, n)
}

func (s *FundHelperService) GetBottomHoldings(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error) {
	return s.aggregator.BottomHoldings(ctx, userID, n)
}

func (s *FundHelperService) GetProfitCalendar(ctx context.Context, userID int64, year int, month time.Month) ([]model.CalendarDay, error) {
	return s.aggregator.ProfitCalendar(ctx, userID, year, month)
}

// WarmEstimates refreshes the ESTIMATE snapshot of every fund that appears in
// at least one holding. Individual fund failures are logged and skipped so a
// single dead code doesn't abort the whole warm-up.
func (s *FundHelperService) WarmEstimates(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.WarmEstimates"

	slog.Debug("WarmEstimates start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("WarmEstimates finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	codes, err := s.repo.GetDistinctFundCodes(ctx)
	if err != nil {
		slog.Error("got error from repo.GetDistinctFundCodes", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	for _, code := range codes {
		if _, err := s.valuation.Estimate(ctx, code); err != nil {
			slog.Warn("can't warm estimate", slog.String("rqID", rqID), slog.String("op", op), slog.String("code", code), slog.String("err", err.Error()))
		}
	}

	return nil
}

func (s *FundHelperService) GenerateReport(ctx context.Context, userID int64) (downloadLink string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FundHelperService.GenerateReport"

	slog.Debug("GenerateReport start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	defer func() {
		slog.Debug("GenerateReport finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	}()

	summary, err := s.aggregator.Summary(ctx, userID)
	if err != nil {
		return "", err
	}

	results, err := s.aggregator.TopHoldings(ctx, userID, summary.HoldingCount)
	if err != nil {
		return "", err
	}

	allocation, err := s.aggregator.Allocation(ctx, userID)
	if err != nil {
		return "", err
	}

	codes := make([]string, 0, len(results))
	for _, res := range results {
		codes = append(codes, res.FundCode)
	}
	funds, err := s.repo.GetFunds(ctx, codes)
	if err != nil {
		return "", err
	}
	nameByCode := make(map[string]string, len(funds))
	for _, fund := range funds {
		nameByCode[fund.Code] = fund.Name
	}

	report := model.PortfolioReport{
		UserID:     userID,
		Summary:    summary,
		Allocation: allocation,
	}
	for _, res := range results {
		report.Holdings = append(report.Holdings, model.HoldingReportRow{CostBasisResult: res, FundName: nameByCode[res.FundCode]})
	}

	fileBytes, fileExtension, err := s.reports.Generate(ctx, report)
	if err != nil {
		slog.Error("got error from reports.Generate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	filename := fmt.Sprintf("portfolio_%d_%s%s", userID, summary.AsOf.Format("2006-01-02"), fileExtension)

	downloadLink, err = s.storage.UploadFile(ctx, bytes.NewReader(fileBytes), filename)
	if err != nil {
		slog.Error("got error from storage.UploadFile", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	return downloadLink, nil
}

func (s *FundHelperService) CleanupReports(ctx context.Context) error {
	return s.storage.DeleteOldFiles(ctx)
}
