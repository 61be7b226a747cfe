package models

import "errors"

// Validation failures detected before any remote call is made.
var (
	ErrNameRequired     = errors.New("name required")
	ErrInvalidJoinCode  = errors.New("enter the 4-letter code")
	ErrInvalidOwner     = errors.New("exactly one owner is required")
	ErrInvalidTagType   = errors.New("unknown tag type")
	ErrInvalidTier      = errors.New("tier must be between 1 and 6")
	ErrInvalidCounter   = errors.New("counter position must be between 1 and 3")
	ErrPromiseRange     = errors.New("promise must be between 0 and 5")
	ErrNotScratchable   = errors.New("weakness tags cannot be scratched")
	ErrDefsRequired     = errors.New("pick might and type")
	ErrThemeLimit       = errors.New("limit 4 themes per character")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotLoaded        = errors.New("row is not loaded")
)
