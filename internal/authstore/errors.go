package authstore

import "errors"

var (
	errInvalidJSON  = errors.New("not valid JSON")
	errBadTimestamp = errors.New("unrecognized timestamp format")
)
