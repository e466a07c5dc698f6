package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs
const (
	TypeValidationError = "https://vendorpulse.local/problems/validation-error"
	TypeNotFound        = "https://vendorpulse.local/problems/not-found"
	TypeDecisionFailed  = "https://vendorpulse.local/problems/decision-failed"
	TypeDisconnected    = "https://vendorpulse.local/problems/disconnected"
	TypeStale           = "https://vendorpulse.local/problems/already-resolved"
	TypeInternalError   = "https://vendorpulse.local/problems/internal-error"
)

// Problem titles
const (
	TitleValidationError = "Validation Error"
	TitleNotFound        = "Not Found"
	TitleDecisionFailed  = "Decision Failed"
	TitleDisconnected    = "Disconnected"
	TitleStale           = "Already Resolved"
	TitleInternalError   = "Internal Server Error"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Errors   []FieldError           `json:"errors,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	for k, v := range p.Extra {
		result[k] = v
	}
	return json.Marshal(result)
}

// ToProblemDetails converts any error into a problem document for the given request path
func ToProblemDetails(err error, instance string) *ProblemDetails {
	if pd, ok := err.(*ProblemDetails); ok {
		return pd
	}
	status := HTTPStatus(err)
	pd := &ProblemDetails{
		Status:   status,
		Detail:   err.Error(),
		Instance: instance,
	}
	var e *Error
	if As(err, &e) {
		if e.Message != "" {
			pd.Detail = e.Message
		}
		pd.Errors = e.Fields
		if e.StatusCode != 0 {
			pd.WithExtra("upstream_status", e.StatusCode)
		}
	}
	switch KindOf(err) {
	case KindValidation:
		pd.Type, pd.Title = TypeValidationError, TitleValidationError
	case KindNotFound:
		pd.Type, pd.Title = TypeNotFound, TitleNotFound
	case KindDecision:
		pd.Type, pd.Title = TypeDecisionFailed, TitleDecisionFailed
	case KindTransport:
		pd.Type, pd.Title = TypeDisconnected, TitleDisconnected
	case KindStale:
		pd.Type, pd.Title = TypeStale, TitleStale
	default:
		pd.Type, pd.Title = TypeInternalError, TitleInternalError
		pd.Status = http.StatusInternalServerError
	}
	return pd
}
