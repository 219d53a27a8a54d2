package domain

import "errors"

var (
	ErrAlreadyParsing    = errors.New("pdf is already being parsed or has been parsed")
	ErrNotParsed         = errors.New("pdf has not been parsed successfully")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrAccountDisabled   = errors.New("account is disabled")
)
