package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost AppError in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if pkgerrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

var (
	ErrConfigLoad         = "CONFIG_LOAD_ERROR"
	ErrDatabaseConnect    = "DATABASE_CONNECT_ERROR"
	ErrRPConnect          = "RPC_CONNECT_ERROR"
	ErrBlockFetch         = "BLOCK_FETCH_ERROR"
	ErrEventDecode        = "EVENT_DECODE_ERROR"
	ErrDependencyNotFound = "DEPENDENCY_NOT_FOUND"
	ErrStore              = "STORE_ERROR"
	ErrInvalidAmount      = "INVALID_AMOUNT"
	ErrCheckInTooSoon     = "CHECKIN_TOO_SOON"
	ErrReferralInvalid    = "REFERRAL_INVALID"
	ErrSyncRun            = "SYNC_RUN_ERROR"
	ErrInvalidInput       = "INVALID_INPUT"
)
