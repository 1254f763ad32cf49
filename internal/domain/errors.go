package domain

import "errors"

var (
	ErrChatNotFound     = errors.New("chat not found")
	ErrEmptyMessage     = errors.New("empty message")
	ErrStoreUnavailable = errors.New("chat store unavailable")
	ErrRelayClosed      = errors.New("relay stopped")
)
