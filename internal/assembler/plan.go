package assembler

import (
	domain "pdfbudget/internal/domain/compression"
)

// Plan groups fragments greedily in input order. A fragment joins the open
// group while the running total stays within the pack limit. A fragment
// larger than the limit on its own becomes a split entry at its position;
// an unusable one becomes a skip entry and does not close the open group.
// The result depends only on the sizes and the budget.
func Plan(fragments []domain.Fragment, budget domain.SizeBudget) domain.BuildPlan {
	var plan domain.BuildPlan
	var cur []domain.Fragment
	var sum int64

	flush := func() {
		if len(cur) == 0 {
			return
		}
		plan = append(plan, domain.PlanEntry{Kind: domain.EntryMerge, Fragments: cur, Size: sum})
		cur, sum = nil, 0
	}

	for _, f := range fragments {
		switch {
		case f.IsUnusable():
			plan = append(plan, domain.PlanEntry{Kind: domain.EntrySkip, Fragments: []domain.Fragment{f}})
		case f.Size > budget.Limit:
			flush()
			plan = append(plan, domain.PlanEntry{Kind: domain.EntrySplit, Fragments: []domain.Fragment{f}, Size: f.Size})
		default:
			if len(cur) > 0 && sum+f.Size > budget.PackLimit() {
				flush()
			}
			cur = append(cur, f)
			sum += f.Size
		}
	}
	flush()
	return plan
}
