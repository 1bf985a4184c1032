package storage

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed is returned when the database cannot be opened
	ErrConnectionFailed = errors.New("connection failed")

	// ErrQueryFailed is returned when a statement fails
	ErrQueryFailed = errors.New("query failed")

	// ErrBufferFull is returned when the query log buffer is full
	ErrBufferFull = errors.New("buffer full")

	// ErrClosed is returned when attempting to use a closed storage
	ErrClosed = errors.New("storage is closed")
)
