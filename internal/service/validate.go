package service

import (
	"strings"
	"unicode"
)

const (
	msgUsernameEmpty   = "Username cannot be empty"
	msgUsernameInvalid = "Username can only contain alphanumeric characters and spaces"
	msgPasswordEmpty   = "Password cannot be empty"
	msgSignupSecret    = "Invalid signup secret"
)

// NormalizeUsername trims surrounding whitespace.
func NormalizeUsername(s string) string {
	return strings.TrimSpace(s)
}

func ValidUsername(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != ' ' {
			return false
		}
	}
	return true
}

func validateCredentials(username, password string) *ValidationError {
	v := &ValidationError{}
	switch {
	case username == "":
		v.add("username", msgUsernameEmpty)
	case !ValidUsername(username):
		v.add("username", msgUsernameInvalid)
	}
	if password == "" {
		v.add("password", msgPasswordEmpty)
	}
	if v.empty() {
		return nil
	}
	return v
}
