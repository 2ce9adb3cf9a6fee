package xslsxGenerator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/xuri/excelize/v2"
)

type XSLSXGenerator struct{}

func New() *XSLSXGenerator {
	return &XSLSXGenerator{}
}

func (g *XSLSXGenerator) Generate(ctx context.Context, report model.PortfolioReport) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XSLSXGenerator.Generate"

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	if err := g.fillSheet(ctx, f, report); err != nil {
		return nil, "", err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while Saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XSLSXGenerator) fillSheet(ctx context.Context, f *excelize.File, report model.PortfolioReport) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XSLSXGenerator.fillSheet"

	sheetName := "Sheet1"
	if err := f.SetSheetName(sheetName, "Portfolio"); err != nil {
		slog.Error("got error while renaming sheet", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}
	sheetName = "Portfolio"

	headerStyle := func(color string) (int, error) {
		return f.NewStyle(&excelize.Style{
			Alignment: &excelize.Alignment{
				Horizontal: "center",
				Vertical:   "center",
			},
			Font: &excelize.Font{
				Bold: true,
				Size: 11,
			},
			Fill: excelize.Fill{
				Type:    "pattern",
				Pattern: 1,
				Color:   []string{color},
			},
		})
	}

	// summary
	if err := f.MergeCell(sheetName, "A1", "E1"); err != nil {
		return err
	}

	f.SetCellValue(sheetName, "A1", fmt.Sprintf("Portfolio summary as of %s", report.Summary.AsOf.Format("2006-01-02 15:04")))

	styleID, err := headerStyle("#cfe2f3")
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", styleID); err != nil {
		return fmt.Errorf("style apply error: %w", err)
	}

	_ = f.SetCellStr(sheetName, "A2", "total value")
	_ = f.SetCellStr(sheetName, "B2", "total cost")
	_ = f.SetCellStr(sheetName, "C2", "total profit")
	_ = f.SetCellStr(sheetName, "D2", "profit rate %")
	_ = f.SetCellStr(sheetName, "E2", "holdings")

	_ = f.SetCellValue(sheetName, "A3", report.Summary.TotalValue.InexactFloat64())
	_ = f.SetCellValue(sheetName, "B3", report.Summary.TotalCost.InexactFloat64())
	_ = f.SetCellValue(sheetName, "C3", report.Summary.TotalProfit.InexactFloat64())
	_ = f.SetCellValue(sheetName, "D3", report.Summary.ProfitRate.InexactFloat64())
	_ = f.SetCellInt(sheetName, "E3", int64(report.Summary.HoldingCount))

	// holdings
	if err := f.MergeCell(sheetName, "A5", "H5"); err != nil {
		return err
	}

	f.SetCellValue(sheetName, "A5", "Holdings")

	styleID, err = headerStyle("#d9ead3")
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A5", "A5", styleID); err != nil {
		return fmt.Errorf("style apply error: %w", err)
	}

	_ = f.SetCellStr(sheetName, "A6", "fund")
	_ = f.SetCellStr(sheetName, "B6", "code")
	_ = f.SetCellStr(sheetName, "C6", "shares")
	_ = f.SetCellStr(sheetName, "D6", "avg cost")
	_ = f.SetCellStr(sheetName, "E6", "market value")
	_ = f.SetCellStr(sheetName, "F6", "unrealized")
	_ = f.SetCellStr(sheetName, "G6", "realized")
	_ = f.SetCellStr(sheetName, "H6", "profit rate %")

	rowNum := 6
	for _, row := range report.Holdings {
		rowNum++
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), row.FundName)
		_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), row.FundCode)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", rowNum), row.Shares.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", rowNum), row.AvgCost.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", rowNum), row.MarketValue.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", rowNum), row.UnrealizedProfit.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", rowNum), row.RealizedProfit.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", rowNum), row.ProfitRate.InexactFloat64())
	}

	// allocation
	rowNum += 2

	if err := f.MergeCell(sheetName, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("C%d", rowNum)); err != nil {
		return err
	}

	f.SetCellValue(sheetName, fmt.Sprintf("A%d", rowNum), "Allocation")

	styleID, err = headerStyle("#f9cb9c")
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("A%d", rowNum), styleID); err != nil {
		return fmt.Errorf("style apply error: %w", err)
	}

	rowNum++
	_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), "category")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), "value")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", rowNum), "weight %")

	for _, slice := range report.Allocation {
		rowNum++
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), slice.Category)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", rowNum), slice.Value.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", rowNum), slice.Weight.InexactFloat64())
	}

	return nil
}
