package subscription

import "paylane/config"

// TrialPolicy decides whether a plan tier may start without captured
// payment credentials in a given region, and for how long.
type TrialPolicy struct {
	Enabled      bool
	DurationDays int
}

// tierPolicies is the base policy per plan tier. Regional markets get a
// longer runway on the pro tier; commercial decision, revisited quarterly.
var tierPolicies = map[string]TrialPolicy{
	"starter": {Enabled: true, DurationDays: 30},
	"pro":     {Enabled: true, DurationDays: 30},
	"premium": {Enabled: false},
}

var regionalOverrides = map[string]TrialPolicy{
	"pro": {Enabled: true, DurationDays: 60},
}

// PolicyFor resolves the trial policy for a region and tier. Unknown tiers
// get no trial.
func PolicyFor(region, tier string) TrialPolicy {
	for _, r := range config.AppConfig.RegionalRegions {
		if r == region {
			if p, ok := regionalOverrides[tier]; ok {
				return p
			}
			break
		}
	}
	if p, ok := tierPolicies[tier]; ok {
		return p
	}
	return TrialPolicy{}
}

// GraceDays is the window after trial end before an uncharged subscription
// turns past_due.
func GraceDays() int {
	return config.AppConfig.TrialGraceDays
}

// CancelGraceDays is the second window after which past_due becomes canceled.
func CancelGraceDays() int {
	return config.AppConfig.TrialCancelGraceDays
}
