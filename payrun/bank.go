package payrun

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// NUBAN
// =============================================================================

// cbnBankCodes maps CBN bank codes to names for the banks we pay into.
var cbnBankCodes = map[string]string{
	"011": "First Bank of Nigeria",
	"023": "Citibank Nigeria",
	"030": "Heritage Bank",
	"032": "Union Bank of Nigeria",
	"033": "United Bank for Africa",
	"035": "Wema Bank",
	"044": "Access Bank",
	"050": "Ecobank Nigeria",
	"057": "Zenith Bank",
	"058": "Guaranty Trust Bank",
	"068": "Standard Chartered Bank",
	"070": "Fidelity Bank",
	"076": "Polaris Bank",
	"082": "Keystone Bank",
	"100": "SunTrust Bank",
	"101": "Providus Bank",
	"102": "Titan Trust Bank",
	"103": "Globus Bank",
	"104": "Parallex Bank",
	"105": "PremiumTrust Bank",
	"106": "Signature Bank",
	"107": "Optimus Bank",
	"214": "First City Monument Bank",
	"215": "Unity Bank",
	"221": "Stanbic IBTC Bank",
	"232": "Sterling Bank",
	"301": "Jaiz Bank",
	"303": "Lotus Bank",
}

// BankName returns the name registered for a CBN code.
func BankName(code string) (string, bool) {
	name, ok := cbnBankCodes[code]
	return name, ok
}

var nubanWeights = [12]int{3, 7, 3, 3, 7, 3, 3, 7, 3, 3, 7, 3}

// ValidateNUBAN checks a 10-digit account number against its bank's code.
// The last digit is a check digit over the 3-digit bank code and the 9-digit
// serial.
func ValidateNUBAN(bankCode, account string) error {
	if _, ok := cbnBankCodes[bankCode]; !ok {
		return fmt.Errorf("unknown bank code %q", bankCode)
	}
	if len(account) != 10 || !allDigits(account) {
		return fmt.Errorf("account number must be 10 digits")
	}
	digits := bankCode + account[:9]
	sum := 0
	for i, w := range nubanWeights {
		sum += int(digits[i]-'0') * w
	}
	check := (10 - sum%10) % 10
	if int(account[9]-'0') != check {
		return fmt.Errorf("account number %s fails NUBAN check for bank %s", account, bankCode)
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// =============================================================================
// BANK SCHEDULE
// =============================================================================

type BankRecord struct {
	EmployeeID    generic.EmployeeID `json:"employee_id"`
	EmployeeName  string             `json:"employee_name"`
	BankCode      string             `json:"bank_code"`
	BankName      string             `json:"bank_name"`
	AccountNumber string             `json:"account_number"`
	AccountName   string             `json:"account_name"`
	Amount        generic.Money      `json:"amount"`
	Narration     string             `json:"narration"`
}

type InvalidBankRecord struct {
	BankRecord
	Reasons []string `json:"reasons"`
}

// BankSchedule lists net pay transfers. Records that can't be paid are kept
// apart with their reasons so the rest of the file can still go out.
type BankSchedule struct {
	PayRunID     string              `json:"pay_run_id"`
	Period       generic.Period      `json:"period"`
	Records      []BankRecord        `json:"records"`
	Invalid      []InvalidBankRecord `json:"invalid"`
	Total        generic.Money       `json:"total"`
	InvalidTotal generic.Money       `json:"invalid_total"`
}

// BuildBankSchedule validates the bank details of every calculated payslip
// with positive net pay.
func BuildBankSchedule(run *PayRun) *BankSchedule {
	s := &BankSchedule{PayRunID: run.ID, Period: run.Period, Records: []BankRecord{}, Invalid: []InvalidBankRecord{}}
	narration := "Salary " + run.Period.Start.Format("Jan 2006")

	for _, slip := range run.Payslips() {
		if !slip.NetPay.IsPositive() {
			continue
		}
		rec := BankRecord{
			EmployeeID:    slip.EmployeeID,
			EmployeeName:  slip.EmployeeName,
			BankCode:      strings.TrimSpace(slip.Bank.BankCode),
			AccountNumber: strings.TrimSpace(slip.Bank.AccountNumber),
			AccountName:   slip.Bank.AccountName,
			Amount:        slip.NetPay,
			Narration:     narration,
		}
		if rec.AccountName == "" {
			rec.AccountName = slip.EmployeeName
		}

		var reasons []string
		if name, ok := BankName(rec.BankCode); ok {
			rec.BankName = name
		} else if slip.Bank.BankName != "" {
			rec.BankName = slip.Bank.BankName
		}
		if rec.BankCode == "" || rec.AccountNumber == "" {
			reasons = append(reasons, "missing bank details")
		} else if err := ValidateNUBAN(rec.BankCode, rec.AccountNumber); err != nil {
			reasons = append(reasons, err.Error())
		}

		if len(reasons) > 0 {
			s.Invalid = append(s.Invalid, InvalidBankRecord{BankRecord: rec, Reasons: reasons})
			s.InvalidTotal = s.InvalidTotal.Add(rec.Amount)
			continue
		}
		s.Records = append(s.Records, rec)
		s.Total = s.Total.Add(rec.Amount)
	}
	sort.SliceStable(s.Records, func(i, j int) bool { return s.Records[i].BankCode < s.Records[j].BankCode })
	return s
}

// BankSchedule builds the schedule for an approved, processing or completed run.
func (o *Orchestrator) BankSchedule(ctx context.Context, id string) (*BankSchedule, error) {
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case StatusApproved, StatusProcessing, StatusCompleted:
		return BuildBankSchedule(run), nil
	}
	return nil, &generic.StateTransitionError{Aggregate: "pay_run", ID: run.ID, From: string(run.Status), Action: "bank_schedule"}
}
