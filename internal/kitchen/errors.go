package kitchen

import "errors"

var (
	ErrUnsupportedItemType = errors.New("item type is not prepared by a station")
	ErrNoPendingTask       = errors.New("no pending task to retract")
	ErrInvalidTransition   = errors.New("invalid task transition")
	ErrProposalCancelled   = errors.New("transition proposal cancelled")
	ErrProposalNotFound    = errors.New("transition proposal not found")
)
