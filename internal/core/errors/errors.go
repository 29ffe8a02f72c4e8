package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpInvalidRecordError    = "invalid_record"
	HttpInvalidQueryError     = "invalid_query"
	HttpSchemaValidationError = "schema_validation_failed"
	HttpDuplicateRecordError  = "duplicate_record"
	HttpReportNotFoundError   = "report_not_found"
	HttpUnauthorizedError     = "unauthorized"
)

// ErrorResponse is the JSON error body returned by every endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
