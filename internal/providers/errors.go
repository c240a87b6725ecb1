package providers

import "fmt"

// Adapter error codes. They surface verbatim on execution_error payloads so
// the hub can distinguish configuration problems from vendor outages.
const (
	ErrCodeModelIDRequired       = "MODEL_ID_REQUIRED"
	ErrCodeModelBaseURLRequired  = "MODEL_BASE_URL_REQUIRED"
	ErrCodeModelAPIKeyMissing    = "MODEL_API_KEY_MISSING"
	ErrCodeModelHTTPError        = "MODEL_HTTP_ERROR"
	ErrCodeModelNetworkError     = "MODEL_NETWORK_ERROR"
	ErrCodeModelInvalidResponse  = "MODEL_INVALID_RESPONSE"
	ErrCodeModelEmptyResponse    = "MODEL_EMPTY_RESPONSE"
	ErrCodeModelTLSConfigInvalid = "MODEL_TLS_CONFIG_INVALID"
)

// AdapterError is a classified model-invocation failure.
type AdapterError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAdapterError(code, message string) *AdapterError {
	return &AdapterError{Code: code, Message: message}
}
