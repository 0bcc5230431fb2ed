package engine

import (
	"sort"
	"time"

	"github.com/kursadbilgin/oncall-engine/internal/domain"
)

// Due returns the candidate rules that are due at now and have not yet fired,
// in ascending NotifyAfterMinutes order. A rule is due once its configured
// delay has elapsed since the attempt started; a zero delay is due on the
// first tick at or after startedAt. Elapsed time is taken from wall-clock now
// with no skew compensation.
func Due(rules []domain.NotificationRule, fired domain.FiredRules, startedAt, now time.Time) []domain.NotificationRule {
	elapsedMinutes := int(now.Sub(startedAt) / time.Minute)

	due := make([]domain.NotificationRule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		if fired.Has(rule.ID) {
			continue
		}
		if rule.NotifyAfterMinutes <= elapsedMinutes {
			due = append(due, rule)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NotifyAfterMinutes < due[j].NotifyAfterMinutes
	})

	return due
}
