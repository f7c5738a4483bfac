package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

const (
	snapshotsSheet = "Snapshots"
	tripsSheet     = "Trips"
)

type excelStyles struct {
	header   int
	percent  int
	currency int
	number   int
	base     int
}

// WriteSnapshotsXLSX writes rolled-up snapshots and breaker trips to a workbook
// for trend charts. Undefined ratios are written as text.
func WriteSnapshotsXLSX(path string, snaps []performance.PerformanceSnapshot, trips []safety.TripRecord) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), snapshotsSheet)
	if _, err := fx.NewSheet(tripsSheet); err != nil {
		return err
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}
	if err := writeSnapshotsSheet(fx, snaps, styles); err != nil {
		return err
	}
	if err := writeTripsSheet(fx, trips, styles); err != nil {
		return err
	}
	return fx.SaveAs(path)
}

func createExcelStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	styles.header, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	// 10 = 0.00%
	styles.percent, err = fx.NewStyle(&excelize.Style{NumFmt: 10, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: border})
	if err != nil {
		return styles, err
	}
	// 7 = $#,##0.00
	styles.currency, err = fx.NewStyle(&excelize.Style{NumFmt: 7, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: border})
	if err != nil {
		return styles, err
	}
	// 2 = 0.00
	styles.number, err = fx.NewStyle(&excelize.Style{NumFmt: 2, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: border})
	if err != nil {
		return styles, err
	}
	styles.base, err = fx.NewStyle(&excelize.Style{Border: border})
	return styles, err
}

func writeHeader(fx *excelize.File, sheet string, headers []string, style int) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := fx.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeSnapshotsSheet(fx *excelize.File, snaps []performance.PerformanceSnapshot, styles excelStyles) error {
	headers := []string{"Taken At", "Trades", "Win Rate", "Profit Factor", "Sharpe", "Max Drawdown", "ROI", "Net PnL", "Equity"}
	if err := writeHeader(fx, snapshotsSheet, headers, styles.header); err != nil {
		return err
	}

	for i, snap := range snaps {
		row := i + 2
		var pf interface{} = snap.ProfitFactor
		if snap.ProfitFactorInfinite {
			pf = "inf"
		}
		var sharpe interface{} = snap.SharpeRatio
		if !snap.SharpeDefined {
			sharpe = "n/a"
		}

		cells := []struct {
			value interface{}
			style int
		}{
			{snap.TakenAt.Format("2006-01-02 15:04:05"), styles.base},
			{snap.TradeCount, styles.base},
			{snap.WinRate, styles.percent},
			{pf, styles.number},
			{sharpe, styles.number},
			{snap.MaxDrawdownPct, styles.percent},
			{snap.ROIPct, styles.percent},
			{snap.NetPnL, styles.currency},
			{snap.CurrentEquity, styles.currency},
		}
		for col, c := range cells {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := fx.SetCellValue(snapshotsSheet, cell, c.value); err != nil {
				return err
			}
			if err := fx.SetCellStyle(snapshotsSheet, cell, cell, c.style); err != nil {
				return err
			}
		}
	}

	if err := fx.SetColWidth(snapshotsSheet, "A", "A", 20); err != nil {
		return err
	}
	return fx.SetColWidth(snapshotsSheet, "B", "I", 14)
}

func writeTripsSheet(fx *excelize.File, trips []safety.TripRecord, styles excelStyles) error {
	headers := []string{"Tripped At", "Drawdown", "Reason", "ID"}
	if err := writeHeader(fx, tripsSheet, headers, styles.header); err != nil {
		return err
	}

	for i, trip := range trips {
		row := i + 2
		values := []interface{}{trip.TrippedAt.Format("2006-01-02 15:04:05"), trip.Drawdown, trip.Reason, trip.ID}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := fx.SetCellValue(tripsSheet, cell, v); err != nil {
				return err
			}
		}
		dd := fmt.Sprintf("B%d", row)
		if err := fx.SetCellStyle(tripsSheet, dd, dd, styles.percent); err != nil {
			return err
		}
	}

	if err := fx.SetColWidth(tripsSheet, "A", "A", 20); err != nil {
		return err
	}
	return fx.SetColWidth(tripsSheet, "C", "D", 38)
}
