package models

import "fmt"

// DeleteMode is the closed set of deletion scopes accepted at the boundary.
type DeleteMode string

const (
	DeleteForMe       DeleteMode = "me"
	DeleteForEveryone DeleteMode = "everyone"
)

func ParseDeleteMode(s string) (DeleteMode, error) {
	switch DeleteMode(s) {
	case DeleteForMe, DeleteForEveryone:
		return DeleteMode(s), nil
	default:
		return "", fmt.Errorf("invalid mode %q", s)
	}
}
