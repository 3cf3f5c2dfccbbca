package domain

import "errors"

var (
	// Out-of-sequence updates indicate a gap; after a threshold of them
	// the book must be re-bootstrapped from a fresh snapshot.
	ErrDepthUpdateOutOfSequence = errors.New("depth update is out of sequence")
	// Outdated updates precede the snapshot and are skipped.
	ErrDepthUpdateOutdated = errors.New("depth update is outdated")
)

// DepthUpdateValidator gates differential updates against the book's last
// applied sequence id, following the exchange's documented rules: drop any
// event with SequenceEnd <= lastUpdateId; accept the first event with
// SequenceStart <= lastUpdateId+1 <= SequenceEnd; anything starting past
// lastUpdateId+1 is a gap.
type DepthUpdateValidator struct{}

func (v *DepthUpdateValidator) Validate(delta *DepthDelta, lastUpdateID int64) error {
	if delta.SequenceEnd <= lastUpdateID {
		return ErrDepthUpdateOutdated
	}

	if delta.SequenceStart > lastUpdateID+1 {
		return ErrDepthUpdateOutOfSequence
	}

	return nil
}
