package tickindex

import (
	"errors"
	"fmt"
)

// ErrTickSpacing is returned for a tick that is not a multiple of the index spacing.
var ErrTickSpacing = errors.New("tick not aligned to spacing")

// MissingWordError reports a bitmap word a sparse index has not loaded yet.
// Callers fetch the word and retry.
type MissingWordError struct {
	Word int16
}

func (e *MissingWordError) Error() string {
	return fmt.Sprintf("tick bitmap word %d not loaded", e.Word)
}
