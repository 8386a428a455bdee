/*
Package payments computes the monetary breakdown for a statement under a
contract.

PURPOSE:
  Pure function of its inputs: the same statement/contract/declaration
  snapshot always produces a bit-for-bit identical breakdown. No hidden
  clock, no side effects on the ledger, safe to run concurrently with
  ledger mutations - callers wanting a consistent point-in-time breakdown
  snapshot the declarations they pass in.

ALGORITHM:
  Service fee     per_participant x recruitment_target x service_fee_%
                  divided evenly across the installments. Owed regardless
                  of output - it compensates capacity.
  Output payment  per_participant x output_% divided across the course's
                  output milestones, times the unique participants with an
                  accepted declaration of each type in the statement.
  VAT             (service fee + output) x the provider's rate, computed
                  for display only, never folded back into the breakdown.

PRECISION:
  All money is decimal.Decimal; nothing here divides by zero - a 0%
  service-fee course, zero installments, or an empty statement all produce
  zeros.
*/
package payments

import (
	"github.com/shopspring/decimal"

	"github.com/warp/declaration-engine/engine"
)

// =============================================================================
// BREAKDOWN TYPES
// =============================================================================

type BreakdownSummary struct {
	ProviderName      string                `json:"name"`
	CourseIdentifier  string                `json:"course_identifier"`
	ContractVersion   string                `json:"version"`
	RecruitmentTarget int64                 `json:"recruitment_target"`
	Participants      int                   `json:"participants"`
	StatementName     string                `json:"statement"`
	StatementPhase    engine.StatementPhase `json:"statement_phase"`
}

type ServiceFees struct {
	PerParticipant decimal.Decimal `json:"per_participant"`
	Monthly        decimal.Decimal `json:"monthly"`
}

type OutputPayment struct {
	DeclarationType engine.DeclarationType `json:"declaration_type"`
	Participants    int                    `json:"participants"`
	PerParticipant  decimal.Decimal        `json:"per_participant"`
	Subtotal        decimal.Decimal        `json:"subtotal"`
}

type Breakdown struct {
	Summary        BreakdownSummary `json:"breakdown_summary"`
	ServiceFees    ServiceFees      `json:"service_fees"`
	OutputPayments []OutputPayment  `json:"output_payments"`
	OutputTotal    decimal.Decimal  `json:"output_total"`
	VAT            decimal.Decimal  `json:"vat"`
	Total          decimal.Decimal  `json:"total"`
}

// Input is the snapshot a breakdown is computed from. Phase is supplied by
// the caller (computed from the clock at snapshot time) so the calculation
// itself stays deterministic.
type Input struct {
	Statement    engine.Statement
	Contract     engine.Contract
	Provider     engine.Provider
	Phase        engine.StatementPhase
	Declarations []engine.Declaration
}

// =============================================================================
// CALCULATION
// =============================================================================

// Calculate produces the payment breakdown for one statement and contract.
func Calculate(in Input) Breakdown {
	course, _ := engine.CourseFor(in.Contract.CourseIdentifier)

	fees := serviceFees(in.Contract)
	outputs, participants := outputPayments(course, in.Contract, in.Declarations)

	outputTotal := decimal.Zero
	for _, o := range outputs {
		outputTotal = outputTotal.Add(o.Subtotal)
	}

	total := fees.Monthly.Add(outputTotal)
	vat := total.Mul(in.Provider.VATRate())

	return Breakdown{
		Summary: BreakdownSummary{
			ProviderName:      in.Provider.Name,
			CourseIdentifier:  in.Contract.CourseIdentifier,
			ContractVersion:   in.Contract.Version,
			RecruitmentTarget: in.Contract.RecruitmentTarget,
			Participants:      participants,
			StatementName:     in.Statement.Name,
			StatementPhase:    in.Phase,
		},
		ServiceFees:    fees,
		OutputPayments: outputs,
		OutputTotal:    outputTotal,
		VAT:            vat,
		Total:          total,
	}
}

// serviceFees computes the capacity payment. Zero installments, a zero
// target, or a 0% split all yield zero rather than dividing by zero.
func serviceFees(c engine.Contract) ServiceFees {
	perParticipant := c.PerParticipant.Mul(c.ServiceFeeFraction())
	if c.ServiceFeeInstallments <= 0 || c.RecruitmentTarget <= 0 || c.ServiceFeePercentage <= 0 {
		return ServiceFees{PerParticipant: perParticipant, Monthly: decimal.Zero}
	}
	monthly := perParticipant.
		Mul(decimal.NewFromInt(c.RecruitmentTarget)).
		Div(decimal.NewFromInt(c.ServiceFeeInstallments))
	return ServiceFees{PerParticipant: perParticipant, Monthly: monthly}
}

// outputPayments counts unique participants per declaration type - distinct
// grouping keys, so only the first valid declaration of a kind per
// participant counts - and prices each type at the per-participant output
// payment divided across the course's output milestones.
func outputPayments(course engine.Course, c engine.Contract, declarations []engine.Declaration) ([]OutputPayment, int) {
	milestoneCount := int64(len(course.OutputTypes))

	perParticipant := decimal.Zero
	if milestoneCount > 0 {
		perParticipant = c.PerParticipant.
			Mul(c.OutputPaymentFraction()).
			Div(decimal.NewFromInt(milestoneCount))
	}

	byType := make(map[engine.DeclarationType]map[string]struct{})
	allParticipants := make(map[string]struct{})
	for _, d := range declarations {
		if !d.Billable() || d.Clawback || d.CourseIdentifier != c.CourseIdentifier {
			continue
		}
		if byType[d.Type] == nil {
			byType[d.Type] = make(map[string]struct{})
		}
		byType[d.Type][d.GroupingKey] = struct{}{}
		allParticipants[d.GroupingKey] = struct{}{}
	}

	// Course milestone order keeps the output deterministic.
	outputs := make([]OutputPayment, 0, len(course.OutputTypes))
	for _, dt := range course.OutputTypes {
		count := len(byType[dt])
		outputs = append(outputs, OutputPayment{
			DeclarationType: dt,
			Participants:    count,
			PerParticipant:  perParticipant,
			Subtotal:        perParticipant.Mul(decimal.NewFromInt(int64(count))),
		})
	}
	return outputs, len(allParticipants)
}
