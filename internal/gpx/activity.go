package gpx

import "strings"

type activityRule struct {
	keywords []string
	label    string
}

// Rule order matters: "mountain bike" has to resolve to Cycling before the
// generic "bik" substring gets a chance, and "downhill skiing" before "hill".
var activityRules = []activityRule{
	{[]string{"mountain bike", "mountain biking"}, "Cycling"},
	{[]string{"downhill skiing"}, "Downhill Skiing"},
	{[]string{"walk", "walking"}, "Walking"},
	{[]string{"run", "running"}, "Running"},
	{[]string{"cycl", "bik", "mtb"}, "Cycling"},
	{[]string{"swim", "swimming"}, "Swimming"},
	{[]string{"multisport", "triathlon"}, "Multisport"},
	{[]string{"other"}, "Other"},
}

// InferActivityType guesses the activity label from the upload filename.
func InferActivityType(filename string) string {
	name := strings.ToLower(filename)
	for _, rule := range activityRules {
		for _, kw := range rule.keywords {
			if strings.Contains(name, kw) {
				return rule.label
			}
		}
	}
	return "Unknown"
}
