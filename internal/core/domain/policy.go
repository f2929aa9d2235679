package domain

const (
	Unsatisfied Evaluation = iota
	Satisfied
	Impossible
)

var evaluationString = map[Evaluation]string{
	Unsatisfied: "Unsatisfied",
	Satisfied:   "Satisfied",
	Impossible:  "Impossible",
}

// Evaluation is the result of evaluating the outcomes of a signing session
// against a threshold policy.
type Evaluation int

func (e Evaluation) String() string {
	return evaluationString[e]
}

// PolicyRef is the spending policy of a transaction, as supplied by the
// wallet. Only the number of required signatures matters here.
type PolicyRef interface {
	Threshold() int
}

// ThresholdPolicy is the k-of-n PolicyRef. Descriptor is informative only.
type ThresholdPolicy struct {
	Required   int
	Descriptor string
}

func NewThresholdPolicy(required int, descriptor string) ThresholdPolicy {
	return ThresholdPolicy{required, descriptor}
}

func (p ThresholdPolicy) Threshold() int {
	return p.Required
}

// Evaluate returns whether the outcomes of the given session satisfy the
// policy. The result is Impossible when the participants that failed are more
// than those that can be spared, ie. failed > total - threshold. A signed
// outcome counts only if its signature set is well-formed, otherwise it's
// considered failed.
func Evaluate(session *SigningSession, policy PolicyRef) Evaluation {
	if session == nil || policy == nil {
		return Unsatisfied
	}
	return EvaluateOutcomes(session.Participants, policy.Threshold())
}

// EvaluateOutcomes is Evaluate for a bare outcome map.
func EvaluateOutcomes(
	outcomes map[Fingerprint]ParticipantOutcome, threshold int,
) Evaluation {
	total := len(outcomes)
	signed, failed := 0, 0
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeSigned:
			if o.Signatures.Validate(0) != nil {
				failed++
				continue
			}
			signed++
		case OutcomeDeclined, OutcomeUnreachable:
			failed++
		}
	}

	if threshold > 0 && signed >= threshold {
		return Satisfied
	}
	if failed > total-threshold {
		return Impossible
	}
	return Unsatisfied
}
