package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness or serialization conflict.
var ErrConflict = errors.New("repository: conflict")

// ErrInvalidArgument indicates the database rejected the provided values.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrNotOwned indicates a row exists but belongs to a different user.
var ErrNotOwned = errors.New("repository: not owned")
