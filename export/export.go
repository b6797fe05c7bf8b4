// Package export renders station statements as XLSX workbooks and PDF
// documents for download.
package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/station-ledger/billing"
	"github.com/warp/station-ledger/settlement"
)

const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"

	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"
)

var statementHeaders = []string{
	"Period", "Mode", "Price", "Limit", "Total gas", "Amount of limit",
	"Amount of gas", "Balance forward", "Payment", "Balance end",
}

var settlementHeaders = []string{
	"Period", "Mode", "Limit", "Gas by meter", "Conf. error", "Low press.",
	"Gas act", "Actual consumption", "Actual days", "Monthly consumption",
	"Total gas", "Amount of limit", "Amount of gas", "Payment",
}

// StatementXLSX renders a statement as a workbook with a summary sheet and
// one row per replayed period.
func StatementXLSX(stmt settlement.Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summary, ledger := "summary", "ledger"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(ledger); err != nil {
		return nil, err
	}

	st := stmt.Station
	_ = f.SetCellValue(summary, "A1", "Station statement")
	_ = f.SetCellValue(summary, "A3", "Station")
	_ = f.SetCellValue(summary, "B3", st.Name)
	_ = f.SetCellValue(summary, "A4", "Landmark")
	_ = f.SetCellValue(summary, "B4", st.Landmark)
	_ = f.SetCellValue(summary, "A5", "Start date")
	_ = f.SetCellValue(summary, "B5", st.StartDate.String())
	_ = f.SetCellValue(summary, "A6", "Start balance")
	_ = f.SetCellValue(summary, "B6", st.StartBalance.InexactFloat64())
	_ = f.SetCellValue(summary, "A7", "Closing balance")
	_ = f.SetCellValue(summary, "B7", stmt.ClosingBalance.InexactFloat64())

	if err := writeHeader(f, ledger, statementHeaders); err != nil {
		return nil, err
	}
	for i, l := range stmt.Lines {
		row := i + 2
		d := l.Settlement.Derived
		values := []any{
			l.Period.String(),
			string(l.Settlement.Mode()),
			priceCell(l),
			cell(l.Settlement.Limit),
			cell(d.TotalGas),
			cell(d.AmountOfLimit),
			cell(d.AmountOfGas),
			l.BalanceForward.InexactFloat64(),
			cell(l.Settlement.Payment),
			l.BalanceEnd.InexactFloat64(),
		}
		if err := writeRow(f, ledger, row, values); err != nil {
			return nil, err
		}
	}

	return write(f)
}

// SettlementsXLSX renders the raw and derived fields of a station's
// settlements, one row per period.
func SettlementsXLSX(st billing.Station, settlements []billing.Settlement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "settlements"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	if err := writeHeader(f, sheet, settlementHeaders); err != nil {
		return nil, err
	}

	for i, s := range billing.ForStation(st.ID, settlements) {
		var gasByMeter, confError, lowPress, gasAct, actual decimal.NullDecimal
		var days any = ""
		switch c := s.ActiveConsumption().(type) {
		case billing.ComponentReadings:
			gasByMeter, confError, lowPress, gasAct = c.GasByMeter, c.ConfError, c.LowPress, c.GasAct
		case billing.ProratedReading:
			actual = c.ActualConsumption
			if c.ActualConsumptionDays > 0 {
				days = c.ActualConsumptionDays
			}
		}
		values := []any{
			s.Period.String(),
			string(s.Mode()),
			cell(s.Limit),
			cell(gasByMeter),
			cell(confError),
			cell(lowPress),
			cell(gasAct),
			cell(actual),
			days,
			cell(s.Derived.CalculatedMonthlyConsumption),
			cell(s.Derived.TotalGas),
			cell(s.Derived.AmountOfLimit),
			cell(s.Derived.AmountOfGas),
			cell(s.Payment),
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return nil, err
		}
	}

	return write(f)
}

// StatementPDF renders a statement as a single A4 landscape table.
func StatementPDF(stmt settlement.Statement) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	st := stmt.Station
	pdf.Cell(0, 8, "Station statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Station: %s", st.Name))
	pdf.Ln(5)
	if st.Landmark != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Landmark: %s", st.Landmark))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Start: %s, balance %s", st.StartDate, st.StartBalance.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Closing balance: %s", stmt.ClosingBalance.StringFixed(2)))
	pdf.Ln(8)

	widths := []float64{22, 22, 22, 26, 26, 30, 30, 32, 28, 32}
	pdf.SetFont("Arial", "B", 9)
	for i, h := range statementHeaders {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, l := range stmt.Lines {
		d := l.Settlement.Derived
		price := "-"
		if l.PriceFound {
			price = l.Price.StringFixed(4)
		}
		cols := []string{
			l.Period.String(),
			string(l.Settlement.Mode()),
			price,
			text(l.Settlement.Limit),
			text(d.TotalGas),
			text(d.AmountOfLimit),
			text(d.AmountOfGas),
			l.BalanceForward.StringFixed(2),
			text(l.Settlement.Payment),
			l.BalanceEnd.StringFixed(2),
		}
		for i, c := range cols {
			align := "R"
			if i < 2 {
				align = "C"
			}
			pdf.CellFormat(widths[i], 6, c, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return err
	}
	for i, h := range headers {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		ref := col + "1"
		_ = f.SetCellValue(sheet, ref, h)
		_ = f.SetCellStyle(sheet, ref, ref, bold)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		ref, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, ref, v); err != nil {
			return err
		}
	}
	return nil
}

func write(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cell leaves absent values blank instead of writing 0.
func cell(n decimal.NullDecimal) any {
	if !n.Valid {
		return ""
	}
	return n.Decimal.InexactFloat64()
}

func priceCell(l settlement.StatementLine) any {
	if !l.PriceFound {
		return ""
	}
	return l.Price.InexactFloat64()
}

func text(n decimal.NullDecimal) string {
	if !n.Valid {
		return "-"
	}
	return n.Decimal.StringFixed(2)
}
