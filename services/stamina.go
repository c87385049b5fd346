package services

// Stamina caps, in reward points per period.
const (
	StaminaBanned      = 0
	StaminaNewcomer    = 2000 // account younger than NewcomerDays
	StaminaTwoLegs     = 2500 // total_eq >= 2
	StaminaOneLegYoung = 1500 // total_eq == 1, account at most VeteranDays old
	StaminaOneLegOld   = 500  // total_eq == 1, older than VeteranDays
	StaminaVeteran     = 500  // no legs, older than VeteranDays
	StaminaDefault     = 1600

	NewcomerDays = 30
	VeteranDays  = 90
)

// StaminaInput carries already-resolved facts about one account.
type StaminaInput struct {
	Banned  bool
	AgeDays int
	TotalEq int64
}

// Stamina maps account facts to a reward capacity. The first matching rule wins.
func Stamina(in StaminaInput) int {
	switch {
	case in.Banned:
		return StaminaBanned
	case in.AgeDays < NewcomerDays:
		return StaminaNewcomer
	case in.TotalEq >= 2:
		return StaminaTwoLegs
	case in.TotalEq == 1:
		if in.AgeDays <= VeteranDays {
			return StaminaOneLegYoung
		}
		return StaminaOneLegOld
	case in.AgeDays > VeteranDays:
		return StaminaVeteran
	default:
		return StaminaDefault
	}
}
