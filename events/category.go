package events

import "strings"

// Category is the domain an event belongs to. Each category maps to exactly one
// topic.
type Category string

const (
	CategoryDriver       Category = "DRIVER"
	CategoryLoad         Category = "LOAD"
	CategoryPosition     Category = "POSITION"
	CategoryOptimization Category = "OPTIMIZATION"
	CategoryGamification Category = "GAMIFICATION"
	CategoryMarket       Category = "MARKET"
	CategoryNotification Category = "NOTIFICATION"
	CategorySystem       Category = "SYSTEM"
)

var categories = []Category{
	CategoryDriver,
	CategoryLoad,
	CategoryPosition,
	CategoryOptimization,
	CategoryGamification,
	CategoryMarket,
	CategoryNotification,
	CategorySystem,
}

// Categories returns every known category in declaration order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

// ParseCategory matches s case-insensitively against the known categories.
func ParseCategory(s string) (Category, bool) {
	for _, c := range categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

// TopicName is the unprefixed topic for the category, e.g. "load_events".
func (c Category) TopicName() string {
	return strings.ToLower(string(c)) + "_events"
}

func (c Category) Valid() bool {
	_, ok := ParseCategory(string(c))
	return ok
}
