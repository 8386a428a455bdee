package engine

import "github.com/shopspring/decimal"

// =============================================================================
// PROVIDER
// =============================================================================

// Provider is a training provider paid under a contract.
type Provider struct {
	ID            ProviderID
	Name          string
	VATChargeable bool
}

// VATRate returns the provider's VAT rate as a decimal fraction (0 or 0.2).
func (p Provider) VATRate() decimal.Decimal {
	if p.VATChargeable {
		return decimal.NewFromFloat(0.2)
	}
	return decimal.Zero
}

// =============================================================================
// CONTRACT
// =============================================================================

// Contract carries the commercial terms a provider is paid under for a
// cohort and course. Immutable once a statement has been calculated against
// it; new terms create a new version.
type Contract struct {
	ID               ContractID
	ProviderID       ProviderID
	Cohort           Cohort
	CourseIdentifier string
	Version          string

	RecruitmentTarget      int64
	PerParticipant         decimal.Decimal
	ServiceFeeInstallments int64

	// Percentage split between capacity and output, as whole percentages
	// (e.g. 40 and 60).
	ServiceFeePercentage    int64
	OutputPaymentPercentage int64
}

// ServiceFeeFraction returns ServiceFeePercentage as a decimal fraction.
func (c Contract) ServiceFeeFraction() decimal.Decimal {
	return decimal.NewFromInt(c.ServiceFeePercentage).Div(decimal.NewFromInt(100))
}

// OutputPaymentFraction returns OutputPaymentPercentage as a decimal fraction.
func (c Contract) OutputPaymentFraction() decimal.Decimal {
	return decimal.NewFromInt(c.OutputPaymentPercentage).Div(decimal.NewFromInt(100))
}
