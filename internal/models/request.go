package models

import "time"

// RequestLogEntry is one proxied request as recorded by the tracker.
type RequestLogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Endpoint   string    `json:"endpoint"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	InTokens   int64     `json:"in_tok,omitempty"`
	OutTokens  int64     `json:"out_tok,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	StatusCode int       `json:"status,omitempty"`
	ReqBytes   int64     `json:"req_bytes"`
	RespBytes  int64     `json:"resp_bytes"`
	Error      string    `json:"error,omitempty"`
}

// Succeeded reports whether the request completed with a 2xx status and
// no transport error.
func (e *RequestLogEntry) Succeeded() bool {
	return e.Error == "" && e.StatusCode >= 200 && e.StatusCode < 300
}

// RequestAggregate is an incrementally maintained sum over log entries.
type RequestAggregate struct {
	Count       int64 `json:"count"`
	InTokenSum  int64 `json:"in_tok_sum"`
	OutTokenSum int64 `json:"out_tok_sum"`
	DurationSum int64 `json:"dur_sum_ms"`
}

// Add folds one entry into the aggregate.
func (a *RequestAggregate) Add(e *RequestLogEntry) {
	a.Count++
	a.InTokenSum += e.InTokens
	a.OutTokenSum += e.OutTokens
	a.DurationSum += e.DurationMS
}

// Remove undoes Add for an evicted entry.
func (a *RequestAggregate) Remove(e *RequestLogEntry) {
	a.Count--
	a.InTokenSum -= e.InTokens
	a.OutTokenSum -= e.OutTokens
	a.DurationSum -= e.DurationMS
}
