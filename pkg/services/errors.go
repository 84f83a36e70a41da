package services

import "errors"

var (
	// ErrEmptyMessage means the request carried no user message to act on.
	ErrEmptyMessage = errors.New("request contains no user message")
)
