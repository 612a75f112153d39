// Package policy holds the pure expiry rules for premium codes.
package policy

import (
	"time"

	"premium-access/internal/domain/model"
)

const day = 24 * time.Hour

const (
	DefaultInscriptionDays = 5
	DefaultMonthlyDays     = 30
	DefaultAnnualDays      = 365
)

// DurationDays returns the entitlement length of kind in days. customDays
// overrides the length of activation-relative kinds when positive.
func DurationDays(kind model.CodeKind, customDays *int) int {
	if kind.IsActivationRelative() && customDays != nil && *customDays > 0 {
		return *customDays
	}
	switch kind {
	case model.KindInscription, model.KindInscriptionFlexible:
		return DefaultInscriptionDays
	case model.KindIndividuelAnnuel, model.KindFamilleAnnuel,
		model.KindPostPaymentIndividuelAnnuel, model.KindPostPaymentFamilleAnnuel:
		return DefaultAnnualDays
	default:
		return DefaultMonthlyDays
	}
}

// Duration is DurationDays as a time.Duration.
func Duration(kind model.CodeKind, customDays *int) time.Duration {
	return time.Duration(DurationDays(kind, customDays)) * day
}

// ComputeValidity returns the nominal validity window of a new code.
// When both requested bounds are supplied they win; otherwise the window starts
// at requestedStart (or issuedAt) and lasts the kind's default duration.
func ComputeValidity(kind model.CodeKind, requestedStart, requestedEnd *time.Time, customDays *int, issuedAt time.Time) (time.Time, time.Time) {
	if requestedStart != nil && requestedEnd != nil {
		return *requestedStart, *requestedEnd
	}
	start := issuedAt
	if requestedStart != nil {
		start = *requestedStart
	}
	if requestedEnd != nil {
		return start, *requestedEnd
	}
	return start, start.Add(Duration(kind, customDays))
}

// PersonalExpiry returns when a redemption made at redeemedAt stops granting
// access. Codes anchored at redemption ignore the nominal ValidUntil.
func PersonalExpiry(code *model.PremiumCode, redeemedAt time.Time) time.Time {
	if code.AnchoredAtRedemption() {
		return redeemedAt.Add(Duration(code.Kind, code.CustomValidityDays))
	}
	return code.ValidUntil
}
