package ragflow

type edge struct {
	from     Stage
	decision Decision
}

// transitions is the complete workflow graph. Stages with a single
// successor are keyed by DecisionNone.
var transitions = map[edge]Stage{
	{StageRouter, DecisionRetrieve}:   StageRetriever,
	{StageRouter, DecisionDirect}:     StageSynthesizer,
	{StageRetriever, DecisionNone}:    StageEvaluator,
	{StageEvaluator, DecisionRefine}:  StageRetriever,
	{StageEvaluator, DecisionRespond}: StageSynthesizer,
	{StageSynthesizer, DecisionNone}:  StageDone,
}

// Transition returns the stage that follows from after decision d.
// An edge missing from the workflow graph yields a *TransitionError.
func Transition(from Stage, d Decision) (Stage, error) {
	next, ok := transitions[edge{from, d}]
	if !ok {
		return StageNone, &TransitionError{From: from, Decision: d}
	}
	return next, nil
}
