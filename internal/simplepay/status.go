package simplepay

import "strings"

// Status is the provider's transaction status. The provider is not consistent
// about its vocabulary, so anything unrecognised collapses to StatusUnknown and
// is treated as "not yet confirmed".
type Status string

const (
	StatusUnknown       Status = "UNKNOWN"
	StatusInit          Status = "INIT"
	StatusInPayment     Status = "INPAYMENT"
	StatusInFraud       Status = "INFRAUD"
	StatusAuthorized    Status = "AUTHORIZED"
	StatusSuccess       Status = "SUCCESS"
	StatusFinished      Status = "FINISHED"
	StatusFail          Status = "FAIL"
	StatusTimeout       Status = "TIMEOUT"
	StatusCancelled     Status = "CANCELLED"
	StatusNotAuthorized Status = "NOTAUTHORIZED"
	StatusReversed      Status = "REVERSED"
	StatusRefund        Status = "REFUND"
)

var knownStatuses = map[Status]struct{}{
	StatusInit:          {},
	StatusInPayment:     {},
	StatusInFraud:       {},
	StatusAuthorized:    {},
	StatusSuccess:       {},
	StatusFinished:      {},
	StatusFail:          {},
	StatusTimeout:       {},
	StatusCancelled:     {},
	StatusNotAuthorized: {},
	StatusReversed:      {},
	StatusRefund:        {},
}

// ParseStatus normalises a raw status string. Matching is case-insensitive.
func ParseStatus(raw string) Status {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := knownStatuses[s]; ok {
		return s
	}
	return StatusUnknown
}

// IsSuccess reports whether the status means the money has been taken.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess || s == StatusFinished
}
