package guard

// ErrorResponse is the JSON body of every guard rejection.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`

	// Errors lists schema validation messages ("path: message")
	Errors []string `json:"errors,omitempty"`
}

// RateLimitResponse is the 429 body written by the rate limit middleware.
type RateLimitResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}
