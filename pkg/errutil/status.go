package errutil

import "net/http"

type CoreStatus string

const (
	StatusOK                  CoreStatus = "ok"
	StatusBadRequest          CoreStatus = "bad_request"
	StatusValidationFailed    CoreStatus = "validation_failed"
	StatusNotFound            CoreStatus = "not_found"
	StatusConflict            CoreStatus = "conflict"
	StatusTimeout             CoreStatus = "timeout"
	StatusClientClosedRequest CoreStatus = "client_closed_request"
	StatusBadGateway          CoreStatus = "bad_gateway"
	StatusUpstreamFailed      CoreStatus = "upstream_failed"
	StatusServiceUnavailable  CoreStatus = "service_unavailable"
	StatusInternal            CoreStatus = "internal"
	StatusUnknown             CoreStatus = "unknown"
)

// HTTPStatus converts the CoreStatus to the HTTP status code used in responses.
// Upstream ticket API failures surface as 500, not 502.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusOK:
		return http.StatusOK
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict:
		return http.StatusConflict
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusClientClosedRequest:
		return 499
	case StatusBadGateway:
		return http.StatusBadGateway
	case StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
