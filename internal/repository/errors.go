package repository

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

var (
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
	ErrDraftNotFound   = fmt.Errorf("draft %w", ErrNotFound)
	ErrActionNotFound  = fmt.Errorf("scheduled action %w", ErrNotFound)
	ErrJobNotFound     = fmt.Errorf("sync job %w", ErrNotFound)
	ErrStateNotFound   = fmt.Errorf("oauth state %w", ErrNotFound)

	ErrActionNotPending = errors.New("scheduled action is not pending")
)
