package chat

import (
	"fmt"

	"mentormatrix/pkg/types"
)

var (
	ErrNotIdentified = fmt.Errorf("%w: identify before using chat events", types.ErrUnauthorized)
	ErrNotInRoom     = fmt.Errorf("%w: join the chat first", types.ErrForbidden)
	ErrUnknownEvent  = fmt.Errorf("%w: unknown event", types.ErrValidation)
	ErrMalformed     = fmt.Errorf("%w: malformed frame", types.ErrValidation)
)
