package project

// Evaluate decides the single transition an accepted vote can trigger. It is
// called with the project row locked, after the vote has been inserted, with
// the live member count and the tally of the project's current week.
//
// A finish quorum only completes the project on its final week, and an
// advance quorum only moves it while weeks remain. A project without members
// never transitions.
func Evaluate(p Project, action Action, memberCount int, tally Tally) Transition {
	if p.Completed || memberCount <= 0 {
		return TransitionNone
	}
	switch action {
	case ActionFinish:
		if p.OnFinalWeek() && tally.Finish >= memberCount {
			return TransitionCompleted
		}
	case ActionAdvance:
		if p.CurrentWeek < p.Weeks && tally.Advance >= memberCount {
			return TransitionAdvanced
		}
	}
	return TransitionNone
}
