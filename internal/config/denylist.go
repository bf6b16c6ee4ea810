package config

import "sort"

// privacyDenylist groups sites whose visits should never be timed or
// uploaded. Enabled with tracking.use_default_denylist.
var privacyDenylist = map[string][]string{
	"banking": {
		"chase.com", "bankofamerica.com", "wellsfargo.com", "citi.com",
		"capitalone.com", "schwab.com", "fidelity.com", "vanguard.com",
		"paypal.com", "venmo.com",
	},
	"password managers": {
		"1password.com", "lastpass.com", "bitwarden.com", "dashlane.com",
		"keepersecurity.com",
	},
	"identity": {
		"accounts.google.com", "login.microsoftonline.com", "login.live.com",
		"auth0.com", "okta.com", "duo.com", "login.gov", "id.me",
	},
	"health": {
		"mychart.com", "healthcare.gov", "medicare.gov", "kp.org",
	},
	"tax": {
		"irs.gov", "turbotax.intuit.com", "hrblock.com",
	},
	"payroll": {
		"workday.com", "adp.com", "gusto.com",
	},
}

// DefaultDenylistDomains returns the curated privacy denylist, sorted.
func DefaultDenylistDomains() []string {
	var out []string
	for _, domains := range privacyDenylist {
		out = append(out, domains...)
	}
	sort.Strings(out)
	return out
}

// DenylistCategories returns the category names of the curated denylist.
func DenylistCategories() []string {
	out := make([]string, 0, len(privacyDenylist))
	for c := range privacyDenylist {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
