package models

import "time"

// PercentUnknown is the sentinel for "the provider did not tell us".
// Every fetcher uses this value; the UI treats anything below zero as unknown.
const PercentUnknown = -1.0

// ModelQuota is the normalized per-model quota view.
type ModelQuota struct {
	Name             string     `json:"name"`
	PercentRemaining float64    `json:"percent_remaining"`
	ResetAt          *time.Time `json:"reset_at,omitempty"`
	Used             *int64     `json:"used,omitempty"`
	Limit            *int64     `json:"limit,omitempty"`
	Remaining        *int64     `json:"remaining,omitempty"`
}

// NewModelQuota builds a ModelQuota from raw used/limit numbers, deriving
// the percentage when both sides are known.
func NewModelQuota(name string, used, limit int64, resetAt *time.Time) ModelQuota {
	mq := ModelQuota{
		Name:             name,
		PercentRemaining: PercentUnknown,
		ResetAt:          resetAt,
	}
	if limit > 0 && used >= 0 {
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		mq.Used = &used
		mq.Limit = &limit
		mq.Remaining = &remaining
		mq.PercentRemaining = float64(remaining) / float64(limit) * 100
	}
	return mq
}

// QuotaSnapshot is the last-known provider response for one account.
type QuotaSnapshot struct {
	Models      []ModelQuota `json:"models"`
	FetchedAt   time.Time    `json:"fetched_at"`
	IsForbidden bool         `json:"is_forbidden"`
	PlanLabel   string       `json:"plan_label,omitempty"`
}

// MinPercent returns the lowest known percent_remaining across models,
// or PercentUnknown when no model reports one.
func (s *QuotaSnapshot) MinPercent() float64 {
	min := PercentUnknown
	for _, m := range s.Models {
		if m.PercentRemaining < 0 {
			continue
		}
		if min < 0 || m.PercentRemaining < min {
			min = m.PercentRemaining
		}
	}
	return min
}

// ClampPercent bounds a percentage to [0,100]; negative input stays the
// unknown sentinel.
func ClampPercent(v float64) float64 {
	if v < 0 {
		return PercentUnknown
	}
	if v > 100 {
		return 100
	}
	return v
}
