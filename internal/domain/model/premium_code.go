package model

import (
	"fmt"
	"strings"
	"time"

	"premium-access/internal/domain"
)

// CodeKind is the closed set of entitlement kinds a premium code can grant.
// The kind doubles as the tier name recorded on the user's entitlement.
type CodeKind string

const (
	KindInscription         CodeKind = "inscription"
	KindInscriptionFlexible CodeKind = "inscription-flexible"

	KindIndividuel       CodeKind = "individuel"
	KindFamille          CodeKind = "famille"
	KindIndividuelAnnuel CodeKind = "individuel-annuel"
	KindFamilleAnnuel    CodeKind = "famille-annuel"
	KindPlanPremium      CodeKind = "plan-premium"

	KindPostPaymentIndividuel         CodeKind = "post-payment-individuel"
	KindPostPaymentFamille            CodeKind = "post-payment-famille"
	KindPostPaymentIndividuelAnnuel   CodeKind = "post-payment-individuel-annuel"
	KindPostPaymentFamilleAnnuel      CodeKind = "post-payment-famille-annuel"
	KindPostPaymentIndividuelFlexible CodeKind = "post-payment-individuel-flexible"
	KindPostPaymentFamilleFlexible    CodeKind = "post-payment-famille-flexible"
)

// AllKinds lists every supported kind in a stable order.
var AllKinds = []CodeKind{
	KindInscription, KindInscriptionFlexible,
	KindIndividuel, KindFamille, KindIndividuelAnnuel, KindFamilleAnnuel, KindPlanPremium,
	KindPostPaymentIndividuel, KindPostPaymentFamille,
	KindPostPaymentIndividuelAnnuel, KindPostPaymentFamilleAnnuel,
	KindPostPaymentIndividuelFlexible, KindPostPaymentFamilleFlexible,
}

// ParseCodeKind validates a raw kind string.
func ParseCodeKind(s string) (CodeKind, error) {
	k := CodeKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown code kind %q", domain.ErrInvalidArgument, s)
}

// IsInscription reports whether the kind belongs to the trial (inscription) family.
func (k CodeKind) IsInscription() bool {
	return k == KindInscription || k == KindInscriptionFlexible
}

// IsActivationRelative reports whether the user's expiry is computed from the
// redemption instant instead of the code's nominal ValidUntil.
func (k CodeKind) IsActivationRelative() bool {
	switch k {
	case KindInscriptionFlexible, KindPostPaymentIndividuelFlexible, KindPostPaymentFamilleFlexible:
		return true
	}
	return false
}

const (
	CodeLength   = 12
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// PremiumCode is a redeemable code. A single code may be redeemed by many
// distinct users; RedeemedBy and RedeemedAt are index-aligned.
type PremiumCode struct {
	ID                   string      `json:"id"`
	Code                 string      `json:"code"`
	Kind                 CodeKind    `json:"kind"`
	IssuedAt             time.Time   `json:"issued_at"`
	ValidFrom            time.Time   `json:"valid_from"`
	ValidUntil           time.Time   `json:"valid_until"`
	IsActive             bool        `json:"is_active"`
	IssuedBy             string      `json:"issued_by"`
	RedeemedBy           []string    `json:"redeemed_by"`
	RedeemedAt           []time.Time `json:"redeemed_at"`
	IsActivationRelative bool        `json:"is_activation_relative"`
	CustomValidityDays   *int        `json:"custom_validity_days,omitempty"`
}

// AnchoredAtRedemption is true when the personal expiry is computed from the
// redemption instant. Inscription codes are anchored even though they are not
// flagged activation-relative.
func (c *PremiumCode) AnchoredAtRedemption() bool {
	return c.IsActivationRelative || c.Kind.IsInscription()
}

// TemporallyActive implements the listing predicate: enabled, started, and
// either anchored at redemption or not past its nominal end.
func (c *PremiumCode) TemporallyActive(now time.Time) bool {
	if !c.IsActive || now.Before(c.ValidFrom) {
		return false
	}
	return c.AnchoredAtRedemption() || c.ValidUntil.After(now)
}

// RedemptionIndex returns the position of userID in RedeemedBy, or -1.
func (c *PremiumCode) RedemptionIndex(userID string) int {
	for i, u := range c.RedeemedBy {
		if u == userID {
			return i
		}
	}
	return -1
}

// HasRedeemed reports whether userID already redeemed the code.
func (c *PremiumCode) HasRedeemed(userID string) bool {
	return c.RedemptionIndex(userID) >= 0
}

// AddRedemption appends a redemption keeping both lists aligned.
func (c *PremiumCode) AddRedemption(userID string, at time.Time) error {
	if c.HasRedeemed(userID) {
		return domain.ErrAlreadyRedeemed
	}
	c.RedeemedBy = append(c.RedeemedBy, userID)
	c.RedeemedAt = append(c.RedeemedAt, at)
	return nil
}

// RemoveRedemption erases userID from the redemption history.
// It returns false when the user never redeemed the code.
func (c *PremiumCode) RemoveRedemption(userID string) bool {
	i := c.RedemptionIndex(userID)
	if i < 0 {
		return false
	}
	c.RedeemedBy = append(c.RedeemedBy[:i:i], c.RedeemedBy[i+1:]...)
	if i < len(c.RedeemedAt) {
		c.RedeemedAt = append(c.RedeemedAt[:i:i], c.RedeemedAt[i+1:]...)
	}
	return true
}

// Validate checks the structural invariants of a stored code.
func (c *PremiumCode) Validate() error {
	if c.ID == "" || !IsWellFormedCode(c.Code) {
		return domain.ErrInvalidArgument
	}
	if _, err := ParseCodeKind(string(c.Kind)); err != nil {
		return err
	}
	if len(c.RedeemedBy) != len(c.RedeemedAt) {
		return fmt.Errorf("%w: redemption lists are not aligned", domain.ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(c.RedeemedBy))
	for _, u := range c.RedeemedBy {
		if _, dup := seen[u]; dup {
			return fmt.Errorf("%w: duplicate redemption for %s", domain.ErrInvalidArgument, u)
		}
		seen[u] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored slices.
func (c *PremiumCode) Clone() *PremiumCode {
	cp := *c
	cp.RedeemedBy = append([]string(nil), c.RedeemedBy...)
	cp.RedeemedAt = append([]time.Time(nil), c.RedeemedAt...)
	if c.CustomValidityDays != nil {
		d := *c.CustomValidityDays
		cp.CustomValidityDays = &d
	}
	return &cp
}

// NormalizeCode trims, upper-cases and strips the dashes users tend to type.
func NormalizeCode(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "", " ", "").Replace(s)
}

// IsWellFormedCode reports whether s is exactly CodeLength chars of CodeAlphabet.
func IsWellFormedCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(CodeAlphabet, rune(s[i])) {
			return false
		}
	}
	return true
}
