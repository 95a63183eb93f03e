package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrConfiguration means a required collaborator was never supplied
	ErrConfiguration = goerr.New("configuration error")

	// ErrDimensionMismatch means two vectors of unequal length were compared
	ErrDimensionMismatch = goerr.New("vector dimension mismatch")

	ErrInvalidKind = goerr.New("invalid memory kind")
)
