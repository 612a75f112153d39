package model

import (
	"fmt"
	"time"

	"premium-access/internal/domain"
)

// DeviceSession is one device's session on a user account.
// There is at most one session per (UserID, DeviceID).
type DeviceSession struct {
	UserID         string            `json:"user_id"`
	DeviceID       string            `json:"device_id"`
	DeviceInfo     map[string]string `json:"device_info,omitempty"`
	IsActive       bool              `json:"is_active"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

func NewDeviceSession(userID, deviceID string, info map[string]string, now time.Time) *DeviceSession {
	return &DeviceSession{
		UserID:         userID,
		DeviceID:       deviceID,
		DeviceInfo:     info,
		IsActive:       true,
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// RecentAt reports whether the session was active within window of now.
func (s *DeviceSession) RecentAt(now time.Time, window time.Duration) bool {
	return s.IsActive && now.Sub(s.LastActivityAt) <= window
}

// StaleAt reports whether the session has been idle longer than window.
func (s *DeviceSession) StaleAt(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastActivityAt) > window
}

// DeviceCapError is returned when admitting a new device would exceed the
// tier's cap. Sessions lists the devices currently holding a slot.
type DeviceCapError struct {
	Tier     CodeKind
	Cap      int
	Sessions []*DeviceSession
}

func (e *DeviceCapError) Error() string {
	return fmt.Sprintf("%s: tier %s allows %d device(s), %d in use", domain.ErrDeviceCapReached, e.Tier, e.Cap, len(e.Sessions))
}

func (e *DeviceCapError) Unwrap() error { return domain.ErrDeviceCapReached }
