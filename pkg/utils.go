package pkg

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Contains checks if an item is in a slice. This function uses type parameters to work with any slice type.
func Contains[T comparable](slice []T, item T) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}

	return false
}

// IsNilOrEmpty returns true when the given string pointer is nil or points to a blank string.
func IsNilOrEmpty(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// IsUUID Validate if the string pass through is an uuid.
func IsUUID(s string) bool {
	r := regexp.MustCompile("^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[1-7][a-fA-F0-9]{3}-[89abAB][a-fA-F0-9]{3}-[a-fA-F0-9]{12}$")
	return r.MatchString(s)
}

// GenerateUUIDv7 generate a new uuid v7 using google/uuid package and return it.
// Version 7 identifiers are time-ordered, which keeps commit tokens sortable by creation time.
func GenerateUUIDv7() uuid.UUID {
	u := uuid.Must(uuid.NewV7())

	return u
}

// StructToJSONString convert a struct to json string.
func StructToJSONString(s any) (string, error) {
	jsonByte, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	return string(jsonByte), nil
}

// SafeIntToUint64 safe mode to converter int to uint64.
func SafeIntToUint64(val int) uint64 {
	if val < 0 {
		return uint64(1)
	}

	return uint64(val)
}

// NextLocalMidnight returns the duration until the next local midnight after now.
// Daily quota keys expire on this boundary.
func NextLocalMidnight(now time.Time) time.Duration {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)

	return midnight.Sub(now)
}

// DailyBucket returns the yyyy-mm-dd bucket name for the given instant in local time.
func DailyBucket(now time.Time) string {
	return now.Format("2006-01-02")
}
