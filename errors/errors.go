package errors

// APIError is the error shape returned to HTTP clients.
type APIError struct {
	Status  int     `json:"status"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new APIError with the given status code, message
// and optional details.
func NewAPIError(status int, message string, details *string) APIError {
	return APIError{
		Status:  status,
		Message: message,
		Details: details,
	}
}
