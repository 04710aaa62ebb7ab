package config

import "strings"

// ParseBool accepts the truthy spellings an INI value is likely to use,
// beyond strconv.ParseBool's strict true/false/1/0.
func ParseBool(value string) bool {
	value = strings.ToLower(value)
	return value == "true" || value == "yes" || value == "1" || value == "on"
}
