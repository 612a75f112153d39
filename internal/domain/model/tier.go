package model

// TierCap maps session-managed tiers to their device-slot cap.
// Tiers missing from the table are not session-managed.
var TierCap = map[CodeKind]int{
	KindIndividuel:                    1,
	KindIndividuelAnnuel:              1,
	KindPostPaymentIndividuel:         1,
	KindPostPaymentIndividuelAnnuel:   1,
	KindPostPaymentIndividuelFlexible: 1,

	KindFamille:                    5,
	KindFamilleAnnuel:              5,
	KindPostPaymentFamille:         5,
	KindPostPaymentFamilleAnnuel:   5,
	KindPostPaymentFamilleFlexible: 5,
}

// DeviceCap returns the cap for tier and whether the tier is session-managed.
func DeviceCap(tier CodeKind) (int, bool) {
	n, ok := TierCap[tier]
	return n, ok
}
