package domain

// Keys of the persisted credential record.
const (
	CredentialToken = "token"
	CredentialUser  = "user"
)

// IsAbsentValue reports whether a persisted text value encodes absence.
// The persistence layer stores only text, so a serialized null or undefined
// must be treated the same as a missing key.
func IsAbsentValue(v string) bool {
	return v == "" || v == "null" || v == "undefined"
}
