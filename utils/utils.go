package utils

// Contains checks if a given string is present in a slice of strings.
// It returns true if the string is found, otherwise false.
func Contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
