package routing

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// WildcardFunnel matches every funnel.
const WildcardFunnel = "*"

// GeoMatchScore outranks every possible ZIP prefix score (at most len("12345-6789")).
const GeoMatchScore = 100

// Rule is the routing view of an assignment rule.
type Rule struct {
	ID           uuid.UUID
	FunnelID     string
	ZipPatterns  []string
	CenterZip    string
	RadiusMiles  *float64
	Priority     int
	DailyCap     *int64
	MonthlyCap   *int64
	TargetOrgID  uuid.UUID
	TargetUserID *uuid.UUID
	Active       bool
}

// IsGeo reports whether the rule defines a radius around a center ZIP.
func (r Rule) IsGeo() bool {
	return strings.TrimSpace(r.CenterZip) != "" && r.RadiusMiles != nil && *r.RadiusMiles >= 0
}

func (r Rule) hasZipPatterns() bool {
	for _, p := range r.ZipPatterns {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}

// Candidate is a rule that is eligible for a lead, with its specificity score.
type Candidate struct {
	Rule          Rule
	Score         int
	GeoMatched    bool
	DistanceMiles float64
}

// Matcher ranks rules for a lead.
type Matcher struct {
	centroids CentroidTable
}

// NewMatcher creates a matcher using centroids for radius rules.
func NewMatcher(centroids CentroidTable) *Matcher {
	if centroids == nil {
		centroids = StaticCentroids{}
	}
	return &Matcher{centroids: centroids}
}

// Rank filters rules to the active ones for funnelID that match zip and orders
// them by score descending, priority ascending, then rule ID ascending.
func (m *Matcher) Rank(funnelID, zip string, rules []Rule) []Candidate {
	zip = strings.TrimSpace(zip)
	leadPoint, leadHasPoint := Coordinate{}, false
	if zip != "" {
		leadPoint, leadHasPoint = m.centroids.Lookup(zip)
	}

	candidates := make([]Candidate, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active || !funnelMatches(rule.FunnelID, funnelID) {
			continue
		}
		if c, ok := m.score(rule, zip, leadPoint, leadHasPoint); ok {
			candidates = append(candidates, c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})
	return candidates
}

func (m *Matcher) score(rule Rule, zip string, leadPoint Coordinate, leadHasPoint bool) (Candidate, bool) {
	isGeo := rule.IsGeo()
	hasPatterns := rule.hasZipPatterns()

	if !isGeo && !hasPatterns {
		return Candidate{Rule: rule, Score: 0}, true
	}
	if zip == "" {
		return Candidate{}, false
	}

	if isGeo && leadHasPoint {
		if center, ok := m.centroids.Lookup(rule.CenterZip); ok {
			distance := Haversine(leadPoint, center)
			if distance <= *rule.RadiusMiles {
				return Candidate{Rule: rule, Score: GeoMatchScore, GeoMatched: true, DistanceMiles: distance}, true
			}
		}
	}

	if hasPatterns {
		if match := MatchZipPattern(zip, rule.ZipPatterns); match.Matched {
			return Candidate{Rule: rule, Score: match.MatchLength}, true
		}
	}
	return Candidate{}, false
}

func funnelMatches(filter, funnelID string) bool {
	filter = strings.TrimSpace(filter)
	return filter == WildcardFunnel || strings.EqualFold(filter, strings.TrimSpace(funnelID))
}

func tied(a, b Candidate) bool {
	return a.Score == b.Score && a.Rule.Priority == b.Rule.Priority
}

func less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Rule.Priority != b.Rule.Priority {
		return a.Rule.Priority < b.Rule.Priority
	}
	return a.Rule.ID.String() < b.Rule.ID.String()
}
