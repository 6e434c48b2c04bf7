package spaces

import "errors"

var (
	ErrDuplicateSpace = errors.New("spaces: duplicate space id")
	ErrInvalidPattern = errors.New("spaces: invalid super_writes pattern")
)
