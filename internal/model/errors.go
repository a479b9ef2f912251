package model

import "errors"

// Domain errors returned by the remote data-access layer.
var (
	// ErrUserNotFound means no users row exists for the uid.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientCoins means a spend would take the balance below zero.
	ErrInsufficientCoins = errors.New("insufficient coins")
)
