package decision

import (
	"fmt"
	"strings"
)

// RenderMarkdown renders token evaluations as a Markdown safety report.
func RenderMarkdown(evals []*TokenEvaluation) string {
	var sb strings.Builder

	sb.WriteString("# Safety Gate Report\n\n")

	counts := map[Verdict]int{}
	for _, ev := range evals {
		counts[ev.Verdict]++
	}
	sb.WriteString(fmt.Sprintf("Tokens: %d (auto: %d, approval: %d, blocked: %d)\n\n",
		len(evals), counts[VerdictAuto], counts[VerdictApproval], counts[VerdictBlocked]))

	for _, ev := range evals {
		name := ev.Token.Symbol
		if name == "" {
			name = ev.Token.Address
		}
		sb.WriteString(fmt.Sprintf("## %s on %s: %s\n\n", name, ev.Token.Chain, strings.ToUpper(string(ev.Verdict))))

		sb.WriteString("| # | Check | Threshold | Actual | Result |\n")
		sb.WriteString("|---|-------|-----------|--------|--------|\n")
		for i, c := range ev.Criteria {
			result := "PASS"
			switch {
			case !c.Pass:
				result = "FAIL"
			case c.Approval:
				result = "APPROVAL"
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
				i+1, c.Name, c.Threshold, c.Actual, result))
		}
		sb.WriteString("\n")

		if len(ev.Decision.Reasons) > 0 {
			for _, r := range ev.Decision.Reasons {
				sb.WriteString(fmt.Sprintf("- %s\n", r))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
