package chat

import (
	"errors"

	"github.com/suPer8Hu/webchat/internal/common"
)

var (
	ErrEmptyMessage = errors.New("message content is required")
	ErrEmptyTitle   = errors.New("title is required")
	ErrNotFound     = common.ErrNotFound
	// ErrUpstream wraps failures of a reachable model service.
	ErrUpstream = errors.New("upstream generation failed")
)
