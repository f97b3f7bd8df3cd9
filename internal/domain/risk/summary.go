package risk

// Summary is an aggregate over every stored profile.
type Summary struct {
	Total           int           `json:"total"`
	Levels          map[Level]int `json:"levels"`
	AtOrAbove       int           `json:"at_or_above"`
	Blacklisted     int           `json:"blacklisted"`
	RequiringReview int           `json:"requiring_review"`
}

func NewSummary() Summary {
	levels := make(map[Level]int, 4)
	for _, l := range Levels() {
		levels[l] = 0
	}
	return Summary{Levels: levels}
}

// Add counts p, treating minScore as the inclusive AtOrAbove cut-off.
func (s *Summary) Add(p *Profile, minScore float64) {
	s.Total++
	s.Levels[p.RiskLevel]++
	if p.OverallRiskScore >= minScore {
		s.AtOrAbove++
	}
	if p.IsBlacklisted {
		s.Blacklisted++
	}
	if p.RequiresManualReview {
		s.RequiringReview++
	}
}
