package dispatch

import (
	"errors"
	"fmt"

	"github.com/LeventeLantos/outreach-engine/internal/model"
)

var (
	ErrNoValidCandidates = errors.New("no valid candidates selected")
	ErrBatchInProgress   = errors.New("a batch is already running")

	// ErrSentNotRecorded marks an item the provider accepted but whose sent
	// status could not be written. It is not sent again by this process.
	ErrSentNotRecorded = errors.New("sent but not recorded")
)

// AllowanceError rejects a batch whose selection includes a kind with no
// allowance left today.
type AllowanceError struct {
	Kind      model.Kind
	Remaining int
}

func (e *AllowanceError) Error() string {
	return fmt.Sprintf("daily %s allowance exhausted: %d remaining", e.Kind, e.Remaining)
}
