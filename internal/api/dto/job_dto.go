package dto

type CreateJobResponse struct {
	JobID           string `json:"job_id"`
	VocalsURL       string `json:"vocals_url"`
	InstrumentalURL string `json:"instrumental_url"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
