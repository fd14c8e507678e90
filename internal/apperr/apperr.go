// Package apperr holds the error taxonomy shared by the ledger, bidding and
// matching packages. Every operation failure carries exactly one Code.
package apperr

import (
	"errors"
	"net/http"
)

type Code string

const (
	NotInitialized       Code = "NOT_INITIALIZED"
	AlreadyInitialized   Code = "ALREADY_INITIALIZED"
	NotFound             Code = "NOT_FOUND"
	AlreadyExists        Code = "ALREADY_EXISTS"
	Unauthorized         Code = "UNAUTHORIZED"
	InvalidParameter     Code = "INVALID_PARAMETER"
	WrongState           Code = "WRONG_STATE"
	Expired              Code = "EXPIRED"
	AlreadyFinalized     Code = "ALREADY_FINALIZED"
	RateLimited          Code = "RATE_LIMITED"
	MarketNotOperational Code = "MARKET_NOT_OPERATIONAL"
	NoBids               Code = "NO_BIDS"
	InsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	Internal             Code = "INTERNAL"
)

// Error is a taxonomy error. Values built with Define are sentinels and are
// compared by identity through errors.Is.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return e.Reason
}

// Define declares a sentinel error for code with a human readable reason.
func Define(code Code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// CodeOf returns the taxonomy code carried by err, or Internal when err does
// not wrap an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps a code to the status the API answers with.
func HTTPStatus(code Code) int {
	switch code {
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusForbidden
	case AlreadyExists, AlreadyInitialized, AlreadyFinalized, WrongState:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case MarketNotOperational:
		return http.StatusServiceUnavailable
	case NotInitialized, InvalidParameter, Expired, NoBids, InsufficientFunds:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
