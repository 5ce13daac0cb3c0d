package rehearsal

import "errors"

// Sentinel errors for the rehearsal package. Check with errors.Is.
var (
	ErrInvalidConfiguration = errors.New("rehearsal: invalid configuration")
	ErrInvalidTransition    = errors.New("rehearsal: invalid state transition")
	ErrEndOfRun             = errors.New("rehearsal: already at the last item")
	ErrStartOfRun           = errors.New("rehearsal: already at the first item")
	ErrNoItems              = errors.New("rehearsal: no items selected")
)
