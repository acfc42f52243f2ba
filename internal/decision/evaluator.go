package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/holders"
)

// Evaluator turns check results into a SweepDecision.
type Evaluator struct {
	maxHiddenTax float64
	market       MarketThresholds
}

// NewEvaluator creates an evaluator with default market thresholds.
// maxHiddenTax is a fraction and only labels the checklist; the tax verdict
// itself arrives in Facts.
func NewEvaluator(maxHiddenTax float64) *Evaluator {
	return &Evaluator{maxHiddenTax: maxHiddenTax, market: DefaultMarketThresholds()}
}

// Evaluate produces a TokenEvaluation from Facts.
// canSweep if ALL criteria pass; requiresApproval if ANY criterion asks.
// Unknown facts never resolve to an unflagged pass.
func (e *Evaluator) Evaluate(f Facts) *TokenEvaluation {
	ev := &TokenEvaluation{
		Token:   f.Token,
		Price:   f.Price,
		Holders: f.Holders,
		Tax:     f.Tax,
		Market:  f.Market,
	}

	// 1. Deny list short-circuits everything else
	deny := CriterionResult{
		Name:      "Deny list",
		Threshold: "not listed",
		Actual:    "not listed",
		Pass:      !f.Denied,
	}
	if f.Denied {
		deny.Actual = "listed"
		deny.Reason = "token is on the deny list"
		ev.Criteria = []CriterionResult{deny}
		ev.finish()
		return ev
	}
	ev.Criteria = append(ev.Criteria, deny)

	// 2. Price confidence
	ev.Criteria = append(ev.Criteria, e.priceCriterion(f))

	// 3. Holder distribution
	ev.Criteria = append(ev.Criteria, e.holderCriterion(f))

	// 4. Transfer tax
	if f.TaxChecked {
		ev.Criteria = append(ev.Criteria, e.taxCriterion(f))
	}

	// 5. List status
	if f.ListChecked {
		ev.Criteria = append(ev.Criteria, listCriterion(f))
	}

	// 6. Market activity
	if f.MarketChecked {
		ev.Criteria = append(ev.Criteria, e.marketCriteria(f)...)
	}

	ev.finish()
	return ev
}

func (e *Evaluator) priceCriterion(f Facts) CriterionResult {
	c := CriterionResult{
		Name:      "Price confidence",
		Threshold: "not UNTRUSTED",
	}
	switch {
	case f.PriceErr != nil || f.Price == nil:
		c.Actual = "unavailable"
		c.Reason = "price unavailable"
	case f.Price.Confidence == domain.ConfidenceUntrusted:
		c.Actual = string(f.Price.Confidence)
		c.Reason = fmt.Sprintf("price untrusted (%d sources)", f.Price.SourceCount)
	case f.Price.Confidence == domain.ConfidenceCaution:
		c.Actual = string(f.Price.Confidence)
		c.Pass = true
		c.Approval = true
		c.Reason = "price sources disagree or are unverified"
	default:
		c.Actual = string(f.Price.Confidence)
		c.Pass = true
	}
	return c
}

func (e *Evaluator) holderCriterion(f Facts) CriterionResult {
	c := CriterionResult{
		Name:      "Holder distribution",
		Threshold: "known and healthy",
	}
	d := f.Holders
	if f.HoldersErr != nil {
		d = nil
	}
	if d == nil || d.HolderCount == 0 {
		c.Actual = "unknown"
	} else {
		c.Actual = fmt.Sprintf("%d holders, top 10 own %.2f%%", d.HolderCount, d.Top10Percentage)
	}

	v := holders.ShouldSweepBasedOnHolders(d)
	c.Pass = v.Sweep
	c.Approval = v.RequiresApproval
	c.Reason = v.Reason
	return c
}

func (e *Evaluator) taxCriterion(f Facts) CriterionResult {
	c := CriterionResult{
		Name:      "Transfer tax",
		Threshold: fmt.Sprintf("<= %.2f%%", e.maxHiddenTax*100),
		Pass:      true,
	}
	switch {
	case f.TaxErr != nil || f.Tax == nil:
		// Simulation fails open, flagged for approval.
		c.Actual = "unavailable"
		c.Approval = true
		c.Reason = "transfer simulation failed"
	case f.TaxExceeded:
		c.Actual = fmt.Sprintf("%.2f%%", f.Tax.HiddenTax*100)
		c.Pass = false
		c.Reason = fmt.Sprintf("hidden transfer tax %.2f%%", f.Tax.HiddenTax*100)
	case f.Tax.Assumed:
		c.Actual = "unavailable"
		c.Approval = true
		c.Reason = "transfer simulation unavailable"
	case f.Tax.HiddenTax > 0:
		c.Actual = fmt.Sprintf("%.2f%%", f.Tax.HiddenTax*100)
		c.Approval = true
		c.Reason = fmt.Sprintf("transfer tax %.2f%% detected", f.Tax.HiddenTax*100)
	default:
		c.Actual = "0.00%"
	}
	return c
}

func listCriterion(f Facts) CriterionResult {
	c := CriterionResult{
		Name:      "List status",
		Threshold: string(domain.ListAllowed),
		Pass:      true,
	}
	switch {
	case f.ListErr != nil:
		c.Actual = "unavailable"
		c.Approval = true
		c.Reason = "token list lookup failed"
	case f.ListStatus == domain.ListAllowed:
		c.Actual = string(f.ListStatus)
	default:
		status := f.ListStatus
		if status == "" {
			status = domain.ListUnknown
		}
		c.Actual = string(status)
		c.Approval = true
		c.Reason = fmt.Sprintf("token is %s, requires manual review", strings.ToLower(string(status)))
	}
	return c
}

// marketCriteria never fail a token; low activity only asks for approval.
func (e *Evaluator) marketCriteria(f Facts) []CriterionResult {
	m := f.Market
	if f.MarketErr != nil || m == nil {
		return []CriterionResult{{
			Name:      "Market data",
			Threshold: "available",
			Actual:    "unavailable",
			Pass:      true,
			Approval:  true,
			Reason:    "market data unavailable",
		}}
	}
	t := e.market

	volume := CriterionResult{
		Name:      "24h volume",
		Threshold: fmt.Sprintf(">= $%.0f", t.MinVolume24hUSD),
		Actual:    fmt.Sprintf("$%.0f", m.Volume24hUSD),
		Pass:      true,
	}
	if m.Volume24hUSD < t.MinVolume24hUSD {
		volume.Approval = true
		volume.Reason = fmt.Sprintf("low 24h volume: $%.0f", m.Volume24hUSD)
	}

	age := CriterionResult{
		Name:      "Token age",
		Threshold: fmt.Sprintf(">= %.0f days", t.MinTokenAge.Hours()/24),
		Pass:      true,
	}
	if m.PairCreatedAt <= 0 {
		age.Actual = "unknown"
		age.Approval = true
		age.Reason = "token age unknown"
	} else {
		elapsed := time.Duration(f.EvaluatedAt-m.PairCreatedAt) * time.Millisecond
		days := elapsed.Hours() / 24
		age.Actual = fmt.Sprintf("%.1f days", days)
		if elapsed < t.MinTokenAge {
			age.Approval = true
			age.Reason = fmt.Sprintf("token is only %.0f days old", days)
		}
	}

	dex := CriterionResult{
		Name:      "Cross-DEX price",
		Threshold: fmt.Sprintf("<= %.1f%%", t.MaxDexDeviation*100),
		Pass:      true,
	}
	if spread, ok := dexSpread(m.DexPrices); !ok {
		dex.Actual = fmt.Sprintf("%d DEX", len(m.DexPrices))
	} else {
		dex.Actual = fmt.Sprintf("%.1f%%", spread*100)
		if spread > t.MaxDexDeviation {
			dex.Approval = true
			dex.Reason = fmt.Sprintf("cross-DEX price deviation %.1f%%", spread*100)
		}
	}

	return []CriterionResult{volume, age, dex}
}

// dexSpread returns (max-min)/min over prices; false with fewer than two.
func dexSpread(prices map[string]decimal.Decimal) (float64, bool) {
	if len(prices) < 2 {
		return 0, false
	}
	var lo, hi decimal.Decimal
	first := true
	for _, p := range prices {
		if first || p.LessThan(lo) {
			lo = p
		}
		if first || p.GreaterThan(hi) {
			hi = p
		}
		first = false
	}
	if !lo.IsPositive() {
		return 0, false
	}
	spread, _ := hi.Sub(lo).Div(lo).Float64()
	return spread, true
}

// finish derives the decision from the checklist.
func (ev *TokenEvaluation) finish() {
	d := domain.SweepDecision{CanSweep: true, Reasons: []string{}}
	for _, c := range ev.Criteria {
		if !c.Pass {
			d.CanSweep = false
		}
		if c.Approval {
			d.RequiresApproval = true
		}
		if (!c.Pass || c.Approval) && c.Reason != "" {
			d.Reasons = append(d.Reasons, c.Reason)
		}
	}
	ev.Decision = d

	switch {
	case !d.CanSweep:
		ev.Verdict = VerdictBlocked
	case d.RequiresApproval:
		ev.Verdict = VerdictApproval
	default:
		ev.Verdict = VerdictAuto
	}
}
