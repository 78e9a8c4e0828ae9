package database

import "errors"

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrManagerClosed = errors.New("database manager is closed")
)
