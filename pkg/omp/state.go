package omp

// State is the lifecycle position of one pixel's decomposition.
type State int

const (
	// Init is the state before the intensity screen.
	Init State = iota
	// Iterating means genes are still being added.
	Iterating
	// StoppedBudget means MaxGenes genes were assigned.
	StoppedBudget
	// StoppedScore means no remaining gene scored above the threshold, or
	// the last refit failed numerically.
	StoppedScore
	// Screened means the pixel was too dim to decompose.
	Screened
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Iterating:
		return "iterating"
	case StoppedBudget:
		return "stopped_budget"
	case StoppedScore:
		return "stopped_score"
	case Screened:
		return "screened"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StoppedBudget || s == StoppedScore || s == Screened
}
