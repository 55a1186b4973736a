package membership

import (
	"errors"
	"fmt"

	"mentormatrix/pkg/types"
)

// ErrNotParticipant wraps types.ErrForbidden so callers can still classify it.
var ErrNotParticipant = fmt.Errorf("%w: user is not a participant of this chat", types.ErrForbidden)

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
