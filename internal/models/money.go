package models

import "fmt"

// Amounts travel through the whole pipeline as int64 base units. The only
// place decimal display units exist is at the HTTP/ledger boundary, through
// the two functions below. BaseUnitScale is the number of base units in one
// display unit.
const BaseUnitScale = 100

// ToDisplayUnits converts base units to a decimal display string.
func ToDisplayUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/BaseUnitScale, amount%BaseUnitScale)
}

// FromDisplayUnits converts whole display units to base units.
func FromDisplayUnits(units int64) int64 {
	return units * BaseUnitScale
}
