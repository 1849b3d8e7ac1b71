package topic

import "errors"

var (
	ErrInvalidPattern = errors.New("invalid topic pattern")
	ErrInvalidTopic   = errors.New("invalid topic")
)
