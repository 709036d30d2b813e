package domain

// Outcome tags recorded for every job creation attempt.
const (
	OutcomeSuccess         = "success"
	OutcomeBadRequest      = "bad_request"
	OutcomeTooManyRequests = "too_many_requests"
	OutcomeNotFound        = "not_found"
	OutcomeError           = "error"
)
