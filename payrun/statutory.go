package payrun

import (
	"context"
	"sort"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// PAYELine is the tax remitted to one state revenue service.
type PAYELine struct {
	Jurisdiction  string        `json:"jurisdiction"`
	EmployeeCount int           `json:"employee_count"`
	TotalGross    generic.Money `json:"total_gross"`
	TotalPAYE     generic.Money `json:"total_paye"`
}

type PensionContribution struct {
	EmployeeID   generic.EmployeeID `json:"employee_id"`
	EmployeeName string             `json:"employee_name"`
	PensionPIN   string             `json:"pension_pin,omitempty"`
	Employee     generic.Money      `json:"employee"`
	Employer     generic.Money      `json:"employer"`
}

// PensionLine is the remittance to one pension fund administrator.
type PensionLine struct {
	PFA           string                `json:"pfa"`
	EmployeeTotal generic.Money         `json:"employee_total"`
	EmployerTotal generic.Money         `json:"employer_total"`
	Total         generic.Money         `json:"total"`
	Contributions []PensionContribution `json:"contributions"`
}

type StatutorySchedules struct {
	PayRunID  string         `json:"pay_run_id"`
	Period    generic.Period `json:"period"`
	PAYE      []PAYELine     `json:"paye"`
	Pension   []PensionLine  `json:"pension"`
	NHFTotal  generic.Money  `json:"nhf_total"`
	NHISTotal generic.Money  `json:"nhis_total"`
}

// unassignedPFA groups pension deducted for employees with no PFA on file.
const unassignedPFA = "UNASSIGNED"

// BuildStatutorySchedules groups what was actually deducted: PAYE by
// jurisdiction and pension by PFA, plus NHF and NHIS totals.
func BuildStatutorySchedules(run *PayRun) *StatutorySchedules {
	out := &StatutorySchedules{PayRunID: run.ID, Period: run.Period, PAYE: []PAYELine{}, Pension: []PensionLine{}}
	paye := make(map[string]*PAYELine)
	pension := make(map[string]*PensionLine)

	for _, slip := range run.Payslips() {
		j := slip.Jurisdiction
		if paye[j] == nil {
			paye[j] = &PAYELine{Jurisdiction: j}
		}
		paye[j].EmployeeCount++
		paye[j].TotalGross = paye[j].TotalGross.Add(slip.GrossPay)
		paye[j].TotalPAYE = paye[j].TotalPAYE.Add(slip.Deduction(payroll.DeductionPAYE))

		employee := slip.Deduction(payroll.DeductionPension)
		if employee.IsPositive() || slip.EmployerPension.IsPositive() {
			pfa := slip.PFA
			if pfa == "" {
				pfa = unassignedPFA
			}
			if pension[pfa] == nil {
				pension[pfa] = &PensionLine{PFA: pfa}
			}
			line := pension[pfa]
			line.Contributions = append(line.Contributions, PensionContribution{
				EmployeeID:   slip.EmployeeID,
				EmployeeName: slip.EmployeeName,
				PensionPIN:   slip.PensionPIN,
				Employee:     employee,
				Employer:     slip.EmployerPension,
			})
			line.EmployeeTotal = line.EmployeeTotal.Add(employee)
			line.EmployerTotal = line.EmployerTotal.Add(slip.EmployerPension)
			line.Total = line.EmployeeTotal.Add(line.EmployerTotal)
		}

		out.NHFTotal = out.NHFTotal.Add(slip.Deduction(payroll.DeductionNHF))
		out.NHISTotal = out.NHISTotal.Add(slip.Deduction(payroll.DeductionNHIS))
	}

	for _, l := range paye {
		out.PAYE = append(out.PAYE, *l)
	}
	sort.Slice(out.PAYE, func(i, j int) bool { return out.PAYE[i].Jurisdiction < out.PAYE[j].Jurisdiction })
	for _, l := range pension {
		out.Pension = append(out.Pension, *l)
	}
	sort.Slice(out.Pension, func(i, j int) bool { return out.Pension[i].PFA < out.Pension[j].PFA })
	return out
}

// StatutorySchedules builds the schedules for a run that has been calculated.
func (o *Orchestrator) StatutorySchedules(ctx context.Context, id string) (*StatutorySchedules, error) {
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.CalculatedAt == nil || run.Status == StatusCancelled {
		return nil, &generic.StateTransitionError{Aggregate: "pay_run", ID: run.ID, From: string(run.Status), Action: "statutory_schedules"}
	}
	return BuildStatutorySchedules(run), nil
}
