package dataset

import (
	"math"
	"math/rand/v2"
)

// Loans column names used by Synthetic.
const (
	LoansLabel = "not.fully.paid"

	ColPurpose     = "purpose"
	ColCreditPol   = "credit.policy"
	ColIntRate     = "int.rate"
	ColInstallment = "installment"
	ColLogIncome   = "log.annual.inc"
	ColDTI         = "dti"
	ColFICO        = "fico"
	ColRevolUtil   = "revol.util"
	ColInquiries   = "inq.last.6mths"
)

var loanPurposes = []string{
	"all_other", "credit_card", "debt_consolidation", "educational",
	"home_improvement", "major_purchase", "small_business",
}

// Synthetic generates a loans-like dataset with n records of which
// round(n*positiveRate) are labelled "1" (not fully paid). Installment
// is strongly correlated with the interest rate, and defaulting borrowers
// have lower FICO scores and more inquiries.
func Synthetic(n int, positiveRate float64, seed uint64) *Dataset {
	rng := rand.New(rand.NewPCG(seed, seed))

	nPos := int(math.Round(float64(n) * positiveRate))
	labels := make([]string, n)
	for i := range labels {
		if i < nPos {
			labels[i] = "1"
		} else {
			labels[i] = "0"
		}
	}
	rng.Shuffle(n, func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	schema := Schema{
		Label: LoansLabel,
		Columns: []Column{
			{Name: ColCreditPol, Kind: KindCategorical},
			{Name: ColPurpose, Kind: KindCategorical},
			{Name: ColIntRate, Kind: KindNumeric},
			{Name: ColInstallment, Kind: KindNumeric},
			{Name: ColLogIncome, Kind: KindNumeric},
			{Name: ColDTI, Kind: KindNumeric},
			{Name: ColFICO, Kind: KindNumeric},
			{Name: ColRevolUtil, Kind: KindNumeric},
			{Name: ColInquiries, Kind: KindNumeric},
		},
	}

	records := make([]Record, n)
	for i := 0; i < n; i++ {
		bad := labels[i] == "1"
		shift := 0.0
		if bad {
			shift = 1
		}

		fico := 710 - 25*shift + 30*rng.NormFloat64()
		intRate := 0.12 + 0.02*shift - (fico-710)/4000 + 0.01*rng.NormFloat64()
		principal := 10000 * (1 + 0.03*rng.NormFloat64())
		installment := principal * intRate / 12 * (1 + 0.02*rng.NormFloat64())
		policy := "1"
		if fico < 660 || rng.Float64() < 0.1+0.2*shift {
			policy = "0"
		}

		records[i] = Record{
			Label: labels[i],
			Features: map[string]Value{
				ColCreditPol:   Categorical(policy),
				ColPurpose:     Categorical(loanPurposes[rng.IntN(len(loanPurposes))]),
				ColIntRate:     Numeric(intRate),
				ColInstallment: Numeric(installment),
				ColLogIncome:   Numeric(10.9 - 0.2*shift + 0.6*rng.NormFloat64()),
				ColDTI:         Numeric(math.Max(0, 12+2*shift+6*rng.NormFloat64())),
				ColFICO:        Numeric(math.Round(fico)),
				ColRevolUtil:   Numeric(math.Min(100, math.Max(0, 45+8*shift+25*rng.NormFloat64()))),
				ColInquiries:   Numeric(float64(rng.IntN(3) + int(2*shift*rng.Float64()))),
			},
		}
	}

	return &Dataset{Schema: schema, Records: records, Classes: [2]string{"0", "1"}}
}
