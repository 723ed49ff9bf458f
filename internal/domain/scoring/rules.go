package scoring

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/driftline/driftline/internal/domain/baseline"
	"github.com/driftline/driftline/internal/domain/event"
)

// Per-rule defaults, applied when a rule's threshold or window is unset.
const (
	defaultOffHoursThreshold       = 2
	defaultNewIPThreshold          = 1
	defaultVolumeSpikeThreshold    = 3
	defaultScopeExpansionThreshold = 2
	defaultFailureBurstThreshold   = 5

	defaultOffHoursWindow       = 60
	defaultNewIPWindow          = 60
	defaultVolumeSpikeWindow    = 1440
	defaultScopeExpansionWindow = 1440
	defaultFailureBurstWindow   = 10
)

// Floors for the ratio-rule denominators, so sparse baselines do not produce
// runaway multipliers.
const (
	minAvgBytesPerDay = 10 * 1024 * 1024 // 10 MB
	minResourceScope  = 10
)

// defaultThreshold returns the rule-specific threshold default.
func defaultThreshold(key RuleKey) float64 {
	switch key {
	case RuleOffHours:
		return defaultOffHoursThreshold
	case RuleNewIP:
		return defaultNewIPThreshold
	case RuleVolumeSpike:
		return defaultVolumeSpikeThreshold
	case RuleScopeExpansion:
		return defaultScopeExpansionThreshold
	case RuleFailureBurst:
		return defaultFailureBurstThreshold
	default:
		return 1
	}
}

// defaultWindowMinutes returns the rule-specific window default.
func defaultWindowMinutes(key RuleKey) int {
	switch key {
	case RuleOffHours:
		return defaultOffHoursWindow
	case RuleNewIP:
		return defaultNewIPWindow
	case RuleVolumeSpike:
		return defaultVolumeSpikeWindow
	case RuleScopeExpansion:
		return defaultScopeExpansionWindow
	case RuleFailureBurst:
		return defaultFailureBurstWindow
	default:
		return 60
	}
}

// evaluateRule runs the evaluator for the rule key over the window's events.
// It returns nil when the rule's condition does not hold.
//
// A triggered rule awards its full weight: thresholds are calibrated so that
// crossing one is already the anomaly, and the total score composes across
// rules rather than within one.
func evaluateRule(rule Rule, bl baseline.Baseline, windowEvents []event.Event) *Contribution {
	threshold := rule.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold(rule.RuleKey)
	}
	windowMinutes := rule.WindowMinutes
	if windowMinutes <= 0 {
		windowMinutes = defaultWindowMinutes(rule.RuleKey)
	}

	switch rule.RuleKey {
	case RuleOffHours:
		return evalOffHours(rule, bl, windowEvents, threshold, windowMinutes)
	case RuleNewIP:
		return evalNewIP(rule, bl, windowEvents, threshold, windowMinutes)
	case RuleVolumeSpike:
		return evalVolumeSpike(rule, bl, windowEvents, threshold, windowMinutes)
	case RuleScopeExpansion:
		return evalScopeExpansion(rule, bl, windowEvents, threshold, windowMinutes)
	case RuleFailureBurst:
		return evalFailureBurst(rule, bl, windowEvents, threshold, windowMinutes)
	default:
		return nil
	}
}

// evalOffHours counts window events whose hour falls outside the actor's
// typical active hours ({9..17} when the baseline has none).
func evalOffHours(rule Rule, bl baseline.Baseline, events []event.Event, threshold float64, windowMinutes int) *Contribution {
	typical := bl.TypicalActiveHours
	if len(typical) == 0 {
		typical = []int{9, 10, 11, 12, 13, 14, 15, 16, 17}
	}
	typicalSet := make(map[int]struct{}, len(typical))
	for _, h := range typical {
		typicalSet[h] = struct{}{}
	}

	count := 0
	for _, ev := range events {
		if _, ok := typicalSet[ev.OccurredAt.UTC().Hour()]; !ok {
			count++
		}
	}
	if float64(count) < threshold {
		return nil
	}

	return &Contribution{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Points:   rule.Weight,
		Reason: fmt.Sprintf("%d events outside typical active hours in the last %d minutes (threshold %d)",
			count, windowMinutes, int(threshold)),
		CurrentValue:  strconv.Itoa(count),
		BaselineValue: hoursLabel(typical),
	}
}

// evalNewIP counts distinct window IPs absent from the baseline's known set.
func evalNewIP(rule Rule, bl baseline.Baseline, events []event.Event, threshold float64, windowMinutes int) *Contribution {
	known := make(map[string]struct{}, len(bl.KnownIPAddresses))
	for _, ip := range bl.KnownIPAddresses {
		known[ip] = struct{}{}
	}

	newIPs := map[string]struct{}{}
	for _, ev := range events {
		if ev.IP == "" {
			continue
		}
		if _, ok := known[ev.IP]; !ok {
			newIPs[ev.IP] = struct{}{}
		}
	}
	if float64(len(newIPs)) < threshold {
		return nil
	}

	ips := make([]string, 0, len(newIPs))
	for ip := range newIPs {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	return &Contribution{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Points:   rule.Weight,
		Reason: fmt.Sprintf("%d previously unseen IP address(es) in the last %d minutes: %s",
			len(ips), windowMinutes, strings.Join(ips, ", ")),
		CurrentValue:  strings.Join(ips, ", "),
		BaselineValue: fmt.Sprintf("%d known addresses", len(bl.KnownIPAddresses)),
	}
}

// evalVolumeSpike compares the window's byte volume against the daily
// baseline (floored at 10 MB).
func evalVolumeSpike(rule Rule, bl baseline.Baseline, events []event.Event, threshold float64, windowMinutes int) *Contribution {
	var total int64
	for _, ev := range events {
		if ev.Bytes != nil {
			total += *ev.Bytes
		}
	}

	denom := bl.AvgBytesPerDay
	if denom < minAvgBytesPerDay {
		denom = minAvgBytesPerDay
	}
	ratio := float64(total) / denom
	if ratio < threshold {
		return nil
	}

	return &Contribution{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Points:   rule.Weight,
		Reason: fmt.Sprintf("transferred %s in the last %d minutes, %.1fx the daily baseline",
			formatBytes(total), windowMinutes, ratio),
		CurrentValue:  strconv.FormatInt(total, 10),
		BaselineValue: strconv.FormatFloat(denom, 'f', 0, 64),
	}
}

// evalScopeExpansion compares the window's distinct resource count against
// the baseline scope (floored at 10).
func evalScopeExpansion(rule Rule, bl baseline.Baseline, events []event.Event, threshold float64, windowMinutes int) *Contribution {
	resources := map[string]struct{}{}
	for _, ev := range events {
		if ev.ResourceID != "" {
			resources[ev.ResourceID] = struct{}{}
		}
	}

	scope := float64(bl.TypicalResourceScope)
	if scope < minResourceScope {
		scope = minResourceScope
	}
	ratio := float64(len(resources)) / scope
	if ratio < threshold {
		return nil
	}

	return &Contribution{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Points:   rule.Weight,
		Reason: fmt.Sprintf("touched %d distinct resources in the last %d minutes, %.1fx the typical scope",
			len(resources), windowMinutes, ratio),
		CurrentValue:  strconv.Itoa(len(resources)),
		BaselineValue: strconv.Itoa(bl.TypicalResourceScope),
	}
}

// evalFailureBurst counts failed outcomes in the window.
func evalFailureBurst(rule Rule, bl baseline.Baseline, events []event.Event, threshold float64, windowMinutes int) *Contribution {
	failures := 0
	for _, ev := range events {
		if ev.Outcome == event.OutcomeFailure {
			failures++
		}
	}
	if float64(failures) < threshold {
		return nil
	}

	return &Contribution{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Points:   rule.Weight,
		Reason: fmt.Sprintf("%d failed actions in the last %d minutes (threshold %d)",
			failures, windowMinutes, int(threshold)),
		CurrentValue:  strconv.Itoa(failures),
		BaselineValue: strconv.FormatFloat(bl.NormalFailureRate, 'f', 2, 64),
	}
}

// hoursLabel renders an hour set compactly, collapsing a contiguous run.
func hoursLabel(hours []int) string {
	if len(hours) == 0 {
		return "none"
	}
	contiguous := true
	for i := 1; i < len(hours); i++ {
		if hours[i] != hours[i-1]+1 {
			contiguous = false
			break
		}
	}
	if contiguous && len(hours) > 1 {
		return fmt.Sprintf("%02d:00-%02d:59", hours[0], hours[len(hours)-1])
	}
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = fmt.Sprintf("%02d:00", h)
	}
	return strings.Join(parts, ", ")
}

// formatBytes renders a byte count for humans.
func formatBytes(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
