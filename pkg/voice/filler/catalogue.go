package filler

// defaultCatalogue is the built-in phrase set. General carries enough
// phrases per stage that consecutive draws stay varied; topic categories
// add a little flavor on top.
func defaultCatalogue() []Phrase {
	general := []struct {
		stage Stage
		texts []string
	}{
		{StageInitial, []string{
			"Let me check that.",
			"One second.",
			"Looking that up now.",
			"Give me a moment.",
			"Checking.",
			"On it.",
			"Let me pull that up.",
		}},
		{StageContinuation, []string{
			"Still looking.",
			"Almost there.",
			"Just a bit longer.",
			"Still pulling that together.",
			"Working on it.",
			"Bear with me.",
		}},
		{StagePatience, []string{
			"Thanks for your patience, this is taking a moment.",
			"Sorry for the wait, nearly done.",
			"Appreciate you holding on.",
			"Almost done, thanks for waiting.",
			"This one is taking longer than usual.",
			"Hang tight, wrapping this up.",
		}},
	}

	topics := []struct {
		category string
		stage    Stage
		texts    []string
	}{
		{"vehicle", StageInitial, []string{
			"Pulling up that vehicle.",
			"Checking the truck's status.",
			"Let me find that unit.",
		}},
		{"dispatch", StageInitial, []string{
			"Setting up that call.",
			"Getting dispatch on the line.",
			"Starting the call now.",
		}},
		{"route", StageInitial, []string{
			"Checking the route.",
			"Looking at road conditions.",
		}},
	}

	var out []Phrase
	for _, g := range general {
		for _, text := range g.texts {
			out = append(out, Phrase{Text: text, Category: CategoryGeneral, Stage: g.stage})
		}
	}
	for _, tc := range topics {
		for _, text := range tc.texts {
			out = append(out, Phrase{Text: text, Category: tc.category, Stage: tc.stage})
		}
	}
	return out
}
