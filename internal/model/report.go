package model

// PortfolioReport is the input of the xlsx report generator.
type PortfolioReport struct {
	UserID     int64
	Summary    PortfolioSummary
	Holdings   []HoldingReportRow
	Allocation []AllocationSlice
}

type HoldingReportRow struct {
	CostBasisResult
	FundName string
}
