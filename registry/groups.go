package registry

import (
	"strings"

	"github.com/freightopt/eventbus/functional"
)

// Role is a well known subscriber role.
type Role string

const (
	RoleLoadService         Role = "load-service"
	RoleDriverService       Role = "driver-service"
	RoleTrackingService     Role = "tracking-service"
	RoleOptimizationEngine  Role = "optimization-engine"
	RoleMarketIntelligence  Role = "market-intelligence"
	RoleGamificationService Role = "gamification-service"
	RoleNotificationService Role = "notification-service"
	RoleAnalyticsService    Role = "analytics-service"
	RoleDeadLetterMonitor   Role = "dead-letter-monitor"
)

var roles = []Role{
	RoleLoadService,
	RoleDriverService,
	RoleTrackingService,
	RoleOptimizationEngine,
	RoleMarketIntelligence,
	RoleGamificationService,
	RoleNotificationService,
	RoleAnalyticsService,
	RoleDeadLetterMonitor,
}

// Groups names consumer groups under a prefix.
type Groups struct {
	prefix string
}

func NewGroups(prefix string) *Groups {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Groups{prefix: strings.TrimSuffix(prefix, "-")}
}

// Resolve returns "{prefix}-{role}". The role is used as given so external
// services joining the same name land in the same group.
func (g *Groups) Resolve(role string) string {
	return g.prefix + "-" + strings.TrimSpace(role)
}

func (g *Groups) Roles() []Role { return append([]Role(nil), roles...) }

// All returns the group ids of every well known role.
func (g *Groups) All() []string {
	return functional.Map(roles, func(r Role) string { return g.Resolve(string(r)) })
}
