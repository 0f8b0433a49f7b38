package actions

import "strings"

// keywordTrigger produces a low-priority fallback item when the response
// text mentions a topic but no tool was called for it.
type keywordTrigger struct {
	kind     string
	title    string
	keywords []string
}

var keywordTriggers = []keywordTrigger{
	{
		kind:     "risk_mention",
		title:    "Risk mentioned",
		keywords: []string{"risk", "hazard", "unsafe", "incident"},
	},
	{
		kind:     "wellness_mention",
		title:    "Wellness mentioned",
		keywords: []string{"wellness", "fatigue", "tired", "rest break"},
	},
	{
		kind:     "finance_mention",
		title:    "Finance mentioned",
		keywords: []string{"cost", "budget", "fuel price", "invoice", "expense"},
	},
}

// ScanText scans free response text for keyword triggers and returns at
// most one low-priority item per trigger kind.
func ScanText(text string) []Item {
	lower := strings.ToLower(text)
	var items []Item
	for _, trig := range keywordTriggers {
		for _, kw := range trig.keywords {
			if strings.Contains(lower, kw) {
				items = append(items, Item{
					Kind:     trig.kind,
					Title:    trig.title,
					Priority: PriorityLow,
				})
				break
			}
		}
	}
	return items
}
