package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRetention validates a client supplied retention count against limit.
// Failures are InvalidArgument errors carrying the offending value.
func ParseRetention(resourceID, raw string, limit int) (int, error) {
	s := strings.TrimSpace(raw)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, InvalidArgument(resourceID, raw, "The retention value must be an integer")
	}
	if n <= 0 {
		return 0, InvalidArgument(resourceID, raw, "The retention value must be greater than 0")
	}
	if n > limit {
		return 0, InvalidArgument(resourceID, raw, fmt.Sprintf("The retention value cannot exceed %d", limit))
	}
	return n, nil
}

// FilterMode selects how listings are filtered by schedule state.
type FilterMode int

const (
	// FilterNone keeps every resource and annotates the scheduled ones.
	FilterNone FilterMode = iota
	FilterScheduled
	FilterUnscheduled
)

func (m FilterMode) String() string {
	switch m {
	case FilterScheduled:
		return "true"
	case FilterUnscheduled:
		return "false"
	default:
		return "none"
	}
}

// ParseFilter interprets the listing filter value. present is false when the
// caller did not supply the parameter at all.
func ParseFilter(value string, present bool) (FilterMode, error) {
	if !present {
		return FilterNone, nil
	}
	switch strings.ToLower(value) {
	case "true":
		return FilterScheduled, nil
	case "false":
		return FilterUnscheduled, nil
	default:
		return FilterNone, InvalidArgument("", value,
			"Bad value for query parameter "+SettingKey+", use True or False")
	}
}
