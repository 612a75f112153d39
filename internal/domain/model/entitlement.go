package model

import "time"

// UserEntitlementStatus is the cached premium status of a single user.
// It is derived from PremiumCode redemptions and may be absent or stale.
type UserEntitlementStatus struct {
	UserID       string    `json:"user_id"`
	IsPremium    bool      `json:"is_premium"`
	SourceCodeID string    `json:"source_code_id,omitempty"`
	ActivatedAt  time.Time `json:"activated_at,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Tier         CodeKind  `json:"tier,omitempty"`
}

// NotPremium is the status returned when no entitlement can be found.
func NotPremium(userID string) *UserEntitlementStatus {
	return &UserEntitlementStatus{UserID: userID}
}

// ExpiredAt reports whether the entitlement is over at now.
func (s *UserEntitlementStatus) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// ActiveAt reports whether the status grants premium access at now.
func (s *UserEntitlementStatus) ActiveAt(now time.Time) bool {
	return s != nil && s.IsPremium && !s.ExpiredAt(now)
}
