package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	clockPattern  = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?`)
)

// ParseHourMinute extracts hour and minute from clock strings ("08:30",
// "09:15:00Z") and full datetimes.
func ParseHourMinute(value string) (int, int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, 0, fmt.Errorf("time value cannot be empty")
	}

	layout := "15:04"
	if strings.Count(value, ":") >= 2 {
		layout = "15:04:05"
	}

	t, err := time.Parse(layout, value)
	if err == nil {
		return t.Hour(), t.Minute(), nil
	}

	fallbackLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
	}
	for _, l := range fallbackLayouts {
		if parsed, altErr := time.Parse(l, value); altErr == nil {
			return parsed.Hour(), parsed.Minute(), nil
		}
	}

	if match := clockPattern.FindString(value); match != "" && match != value {
		return ParseHourMinute(match)
	}

	return 0, 0, fmt.Errorf("invalid time format %q: %w", value, err)
}

// ClockHHMM reduces "HH:MM[:SS]" to "HH:MM". Unparseable input is returned trimmed.
func ClockHHMM(value string) string {
	h, m, err := ParseHourMinute(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// NormalizeName lowercases, trims and collapses inner whitespace so names
// typed slightly differently compare equal.
func NormalizeName(s string) string {
	return strings.ToLower(CompactSpaces(s))
}

// CompactSpaces trims and collapses runs of whitespace to a single space.
func CompactSpaces(s string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// GenerateRandomString generates a random hex string of specified length
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, (length+1)/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}

// IsValidRole checks if a role is valid
func IsValidRole(role string) bool {
	validRoles := []string{"owner", "admin", "dispatcher", "guide"}
	for _, validRole := range validRoles {
		if role == validRole {
			return true
		}
	}
	return false
}

// SanitizeString removes dangerous characters from string
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
