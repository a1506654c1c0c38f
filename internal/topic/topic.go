// Package topic implements MQTT topic name and topic filter rules.
//
// Topic levels are separated by '/'. A filter may contain the single-level
// wildcard '+', which must occupy a whole level, and the multi-level wildcard
// '#', which must occupy the last level.
package topic

import (
	"errors"
	"strings"
)

const (
	// MultiLevelWildcard matches the parent level and any number of children.
	MultiLevelWildcard = "#"
	// SingleLevelWildcard matches exactly one level.
	SingleLevelWildcard = "+"
	// Separator separates topic levels.
	Separator = "/"

	maxLength = 65535
)

var (
	// ErrEmpty is returned for empty topic names and filters.
	ErrEmpty = errors.New("topic: empty")
	// ErrTooLong is returned when a topic exceeds the MQTT length limit.
	ErrTooLong = errors.New("topic: exceeds 65535 bytes")
	// ErrWildcardInName is returned when a topic name contains a wildcard.
	ErrWildcardInName = errors.New("topic: wildcard not allowed in topic name")
	// ErrInvalidWildcard is returned when a wildcard does not occupy a whole level
	// or '#' is not the last level.
	ErrInvalidWildcard = errors.New("topic: invalid wildcard placement")
)

// ValidateName reports whether s may be used as the topic of a publish.
func ValidateName(s string) error {
	if err := validateCommon(s); err != nil {
		return err
	}
	if strings.ContainsAny(s, "+#") {
		return ErrWildcardInName
	}
	return nil
}

// ValidateFilter reports whether s is a well-formed subscription filter.
func ValidateFilter(s string) error {
	if err := validateCommon(s); err != nil {
		return err
	}
	levels := strings.Split(s, Separator)
	for i, level := range levels {
		switch {
		case level == MultiLevelWildcard:
			if i != len(levels)-1 {
				return ErrInvalidWildcard
			}
		case level == SingleLevelWildcard:
		case strings.ContainsAny(level, "+#"):
			return ErrInvalidWildcard
		}
	}
	return nil
}

// IsWildcard reports whether the filter contains any wildcard level.
func IsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "+#")
}

// Match reports whether topic name matches the subscription filter.
//
// Filters starting with a wildcard do not match names starting with '$', so
// "#" never matches "$aws/things/x/shadow/get/accepted".
func Match(filter, name string) bool {
	if filter == name {
		return true
	}
	if strings.HasPrefix(name, "$") && (strings.HasPrefix(filter, SingleLevelWildcard) || strings.HasPrefix(filter, MultiLevelWildcard)) {
		return false
	}

	for {
		fl, frest, fmore := strings.Cut(filter, Separator)
		nl, nrest, nmore := strings.Cut(name, Separator)

		switch fl {
		case MultiLevelWildcard:
			return true
		case SingleLevelWildcard:
		default:
			if fl != nl {
				return false
			}
		}

		switch {
		case !fmore && !nmore:
			return true
		case !nmore:
			// "a/b/#" matches "a/b": '#' includes the parent level.
			return frest == MultiLevelWildcard
		case !fmore:
			return false
		}
		filter, name = frest, nrest
	}
}

func validateCommon(s string) error {
	if s == "" {
		return ErrEmpty
	}
	if len(s) > maxLength {
		return ErrTooLong
	}
	return nil
}
