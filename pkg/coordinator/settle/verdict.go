package settle

import "github.com/stakegate/stakegate/pkg/errkind"

type VerdictStatus string

const (
	VerdictPass VerdictStatus = "pass"
	VerdictFail VerdictStatus = "fail"
)

// PassThreshold is the minimum score that maps to a passing verdict.
const PassThreshold = 65

// Verdict is produced by the external evaluator and consumed as-is. The
// settlement pipeline never recomputes or second-guesses it.
type Verdict struct {
	Score  uint8
	Status VerdictStatus
}

func NewVerdict(score uint8, status VerdictStatus) (Verdict, error) {
	if score > 100 {
		return Verdict{}, errkind.Newf(errkind.InvalidVerdict, "score %d out of range 0..100", score)
	}
	if status != VerdictPass && status != VerdictFail {
		return Verdict{}, errkind.Newf(errkind.InvalidVerdict, "unknown verdict status %q", status)
	}
	return Verdict{Score: score, Status: status}, nil
}

// VerdictFromScore derives the status from the score. This is the
// evaluator's mapping, exposed here so producers agree on the threshold.
func VerdictFromScore(score uint8) (Verdict, error) {
	status := VerdictFail
	if score >= PassThreshold {
		status = VerdictPass
	}
	return NewVerdict(score, status)
}
