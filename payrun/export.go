package payrun

import (
	"fmt"
	"io"
	"strings"

	"github.com/warp/payroll-engine/generic"
	"github.com/xuri/excelize/v2"
)

const (
	sheetPayments = "Payments"
	sheetRejected = "Rejected"
)

var bankHeader = []string{"S/N", "Employee ID", "Employee Name", "Bank Code", "Bank Name", "Account Number", "Account Name", "Amount", "Narration"}

// WriteXLSX writes the schedule as a workbook for bank upload: valid
// records on "Payments" with a total row, invalid ones on "Rejected".
func (s *BankSchedule) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetPayments); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetRejected); err != nil {
		return err
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return err
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := writeRow(f, sheetPayments, 1, bankHeader, boldStyle); err != nil {
		return err
	}
	row := 2
	for i, rec := range s.Records {
		if err := writeRecord(f, sheetPayments, row, i+1, rec, amountStyle); err != nil {
			return err
		}
		row++
	}
	if err := f.SetCellStr(sheetPayments, fmt.Sprintf("G%d", row), "TOTAL"); err != nil {
		return err
	}
	if err := setAmount(f, sheetPayments, fmt.Sprintf("H%d", row), s.Total, boldStyle); err != nil {
		return err
	}

	if err := writeRow(f, sheetRejected, 1, append(bankHeader, "Reasons"), boldStyle); err != nil {
		return err
	}
	for i, rec := range s.Invalid {
		if err := writeRecord(f, sheetRejected, i+2, i+1, rec.BankRecord, amountStyle); err != nil {
			return err
		}
		if err := f.SetCellStr(sheetRejected, fmt.Sprintf("J%d", i+2), strings.Join(rec.Reasons, "; ")); err != nil {
			return err
		}
	}

	_, err = f.WriteTo(w)
	return err
}

func writeRow(f *excelize.File, sheet string, row int, values []string, style int) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, cell, v); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func writeRecord(f *excelize.File, sheet string, row, seq int, rec BankRecord, amountStyle int) error {
	if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", row), seq); err != nil {
		return err
	}
	// Account numbers keep their leading zeros as text.
	text := []string{string(rec.EmployeeID), rec.EmployeeName, rec.BankCode, rec.BankName, rec.AccountNumber, rec.AccountName}
	for i, v := range text {
		cell, err := excelize.CoordinatesToCellName(i+2, row)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, cell, v); err != nil {
			return err
		}
	}
	if err := setAmount(f, sheet, fmt.Sprintf("H%d", row), rec.Amount, amountStyle); err != nil {
		return err
	}
	return f.SetCellStr(sheet, fmt.Sprintf("I%d", row), rec.Narration)
}

func setAmount(f *excelize.File, sheet, cell string, m generic.Money, style int) error {
	if err := f.SetCellFloat(sheet, cell, m.Decimal().InexactFloat64(), 2, 64); err != nil {
		return err
	}
	return f.SetCellStyle(sheet, cell, cell, style)
}
