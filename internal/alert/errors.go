package alert

import "errors"

var (
	ErrAlertNotFound = errors.New("alert: alert not found")
	ErrInvalidAlert  = errors.New("alert: invalid alert")
)
