/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ErrorCode identifies a class of failure that callers can act on.
type ErrorCode string

const (
	CodeGameNotFound        ErrorCode = "GameNotFound"
	CodeGameFull            ErrorCode = "GameFull"
	CodePlayerNotFound      ErrorCode = "PlayerNotFound"
	CodePlayerAlreadyExists ErrorCode = "PlayerAlreadyExists"
	CodeInvalidGameCode     ErrorCode = "InvalidGameCode"
	CodePlayerAlreadyInGame ErrorCode = "PlayerAlreadyInGame"
	CodeUsernameTaken       ErrorCode = "UsernameTaken"
	CodeInvalidInput        ErrorCode = "InvalidInput"
	CodeInvalidGameMode     ErrorCode = "InvalidGameMode"
	CodeInternalServerError ErrorCode = "InternalServerError"
)

// GameError is the single error type crossing component boundaries. It
// serializes directly as the HTTP error body.
type GameError struct {
	Code    ErrorCode `json:"error"`
	Message string    `json:"message"`
}

func (e *GameError) Error() string {
	return e.Message
}

func gameErr(code ErrorCode, message string) *GameError {
	return &GameError{Code: code, Message: message}
}

func errInvalidInput(reason string) *GameError {
	return &GameError{Code: CodeInvalidInput, Message: reason}
}

func errInternal(err error) *GameError {
	return &GameError{Code: CodeInternalServerError, Message: err.Error()}
}

// asGameError normalizes any error into a GameError; store failures and
// other unknown errors map to InternalServerError.
func asGameError(err error) *GameError {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge
	}
	return errInternal(err)
}

// httpStatus maps the error taxonomy onto response codes: domain failures
// are the client's fault, everything else is ours.
func httpStatus(err error) int {
	switch asGameError(err).Code {
	case CodeInternalServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func logErrorf(format string, args ...any) {
	log.Printf("%s | ERROR: %s", time.Now().Format(logDate), fmt.Sprintf(format, args...))
}
