package pool

// ModelProfile describes one model: its name, relative cost/capability
// tier (lower is cheaper), the ordered fallback chain to escalate along,
// and the per-credential daily request ceiling used for quota estimates.
type ModelProfile struct {
	Name              string
	Tier              int
	Fallback          []string
	DailyRequestLimit int64
}

// DefaultModels returns the built-in Gemini tier chain:
// flash-lite < flash < pro.
func DefaultModels() []ModelProfile {
	return []ModelProfile{
		{
			Name:              "gemini-2.5-flash-lite",
			Tier:              0,
			Fallback:          []string{"gemini-2.5-flash", "gemini-2.5-pro"},
			DailyRequestLimit: 1000,
		},
		{
			Name:              "gemini-2.5-flash",
			Tier:              1,
			Fallback:          []string{"gemini-2.5-pro"},
			DailyRequestLimit: 250,
		},
		{
			Name:              "gemini-2.5-pro",
			Tier:              2,
			Fallback:          nil,
			DailyRequestLimit: 100,
		},
	}
}
