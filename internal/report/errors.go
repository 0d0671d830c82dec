package report

import "errors"

var (
	ErrInsufficientData  = errors.New("insufficient data")
	ErrStoreUnavailable  = errors.New("report store unavailable")
	ErrAggregationFailed = errors.New("aggregation failed")
	ErrTimeout           = errors.New("enhancement timed out")
	ErrUnparsable        = errors.New("enhancement response unparsable")
	ErrConsentDeclined   = errors.New("consent declined")
	ErrConsentFailed     = errors.New("consent gate failed")
	ErrNoBaseReport      = errors.New("no bound base report")
)
