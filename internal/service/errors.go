package service

import "errors"

var (
	ErrValidation      = errors.New("error validation failed")
	ErrNotFound        = errors.New("error not found")
	ErrDataUnavailable = errors.New("error data unavailable")
	ErrVersionConflict = errors.New("error version conflict")
)
