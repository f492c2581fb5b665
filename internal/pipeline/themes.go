package pipeline

import "time"

// Theme is one entry of the content catalog: a headline theme plus the
// sub-themes woven into the generated script and post.
type Theme struct {
	Name      string   `json:"name"`
	Subthemes []string `json:"subthemes"`
}

// DefaultThemes is used when the config carries no catalog.
func DefaultThemes() []Theme {
	return []Theme{
		{Name: "gratitude", Subthemes: []string{"family", "daily bread", "small mercies"}},
		{Name: "hope", Subthemes: []string{"new beginnings", "perseverance", "light in darkness"}},
		{Name: "peace", Subthemes: []string{"stillness", "forgiveness", "rest"}},
		{Name: "strength", Subthemes: []string{"trials", "courage", "faith under pressure"}},
		{Name: "compassion", Subthemes: []string{"neighbors", "the forgotten", "gentle words"}},
		{Name: "guidance", Subthemes: []string{"decisions", "patience", "trust"}},
		{Name: "renewal", Subthemes: []string{"morning light", "second chances", "letting go"}},
	}
}

// ThemeOfDay rotates through the catalog deterministically by calendar
// day, so every run launched on the same date shares one theme across
// languages and families.
func ThemeOfDay(catalog []Theme, day time.Time) Theme {
	if len(catalog) == 0 {
		catalog = DefaultThemes()
	}
	epoch := time.Date(2024, time.January, 1, 0, 0, 0, 0, day.Location())
	days := int(day.Sub(epoch).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return catalog[days%len(catalog)]
}
