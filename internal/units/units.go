// Package units names the temperature scales readings can be printed in and
// converts to them. Readings are always held in degrees Celsius.
package units

import "strings"

// Unit constants
const (
	Celsius    = "c"
	Fahrenheit = "f"
	Kelvin     = "k"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Celsius, Fahrenheit, Kelvin}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertTemperature converts a temperature in °C to the target unit.
// Unknown units are treated as Celsius.
func ConvertTemperature(celsius float64, targetUnit string) float64 {
	switch targetUnit {
	case Fahrenheit:
		return celsius*9/5 + 32
	case Kelvin:
		return celsius + 273.15
	default:
		return celsius
	}
}

// Symbol returns the printed suffix for unit.
func Symbol(unit string) string {
	switch unit {
	case Fahrenheit:
		return "°F"
	case Kelvin:
		return "K"
	default:
		return "°C"
	}
}
