// Package resources provides crisis hotlines, support websites and the
// user-facing safety message that accompanies an assessment.
package resources

import "strings"

// Resources is the ordered hotline and website list returned to the user.
type Resources struct {
	Hotlines []string `json:"hotlines"`
	Websites []string `json:"websites"`
}

// Directory holds the fixed resource lists plus region-specific hotlines.
type Directory struct {
	hotlines []string
	websites []string
	regional map[string]string
}

// NewDirectory returns the built-in directory.
func NewDirectory() *Directory {
	return &Directory{
		hotlines: []string{
			"988 Suicide & Crisis Lifeline: call or text 988 (US)",
			"Crisis Text Line: text HOME to 741741",
			"If you are in immediate danger, call your local emergency number",
		},
		websites: []string{
			"https://988lifeline.org",
			"https://www.crisistextline.org",
			"https://findahelpline.com",
		},
		regional: map[string]string{
			"US": "Emergency services: call 911",
			"CA": "Talk Suicide Canada: call or text 988",
			"GB": "Samaritans: call 116 123",
			"UK": "Samaritans: call 116 123",
			"IE": "Samaritans Ireland: call 116 123",
			"AU": "Lifeline Australia: call 13 11 14",
			"NZ": "Need to talk? call or text 1737",
			"IN": "Tele-MANAS: call 14416",
		},
	}
}

// GetCrisisResources returns the fixed list; a known region code prepends the
// region's hotline. Unknown or empty locations get the fixed list only.
func (d *Directory) GetCrisisResources(location string) Resources {
	res := Resources{
		Hotlines: make([]string, 0, len(d.hotlines)+1),
		Websites: append([]string{}, d.websites...),
	}
	if hotline, ok := d.regional[regionCode(location)]; ok {
		res.Hotlines = append(res.Hotlines, hotline)
	}
	res.Hotlines = append(res.Hotlines, d.hotlines...)
	return res
}

// regionCode accepts "US", "us", "en-US" or "US-CA" style values.
func regionCode(location string) string {
	loc := strings.ToUpper(strings.TrimSpace(location))
	if loc == "" {
		return ""
	}
	if i := strings.IndexAny(loc, "-_"); i >= 0 {
		head, tail := loc[:i], loc[i+1:]
		// "EN-US": language first, region second
		if _, ok := knownLanguages[head]; ok && tail != "" {
			return tail
		}
		return head
	}
	return loc
}

var knownLanguages = map[string]struct{}{
	"EN": {}, "FR": {}, "HI": {}, "GA": {}, "MI": {},
}
