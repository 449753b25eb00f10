package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mikeusry/southland-platform-sub000/internal/models"
)

// URLRule maps a URL pattern to a persona. Rules are evaluated in order.
type URLRule struct {
	Pattern *regexp.Regexp
	Persona models.PersonaID
}

// KeywordSet is the keyword dictionary for one persona.
type KeywordSet struct {
	Persona  models.PersonaID
	Keywords []string
}

// Rules bundles the tables the extractor matches against.
type Rules struct {
	URLRules []URLRule
	// Keywords is checked in declaration order; earlier entries win ties.
	Keywords []KeywordSet
}

// DefaultRules returns the built-in URL and keyword tables.
func DefaultRules() *Rules {
	return &Rules{
		URLRules: []URLRule{
			{Pattern: regexp.MustCompile(`(?i)/poultry/backyard`), Persona: models.PersonaBackyard},
			{Pattern: regexp.MustCompile(`(?i)/poultry/commercial`), Persona: models.PersonaCommercial},
			{Pattern: regexp.MustCompile(`(?i)/(lawn|turf)(/|$|-)`), Persona: models.PersonaLawn},
			{Pattern: regexp.MustCompile(`(?i)/collections/(backyard|homestead|small-flock)`), Persona: models.PersonaBackyard},
			{Pattern: regexp.MustCompile(`(?i)/collections/(commercial|broiler|bulk)`), Persona: models.PersonaCommercial},
			{Pattern: regexp.MustCompile(`(?i)/collections/(lawn|garden|turf)`), Persona: models.PersonaLawn},
			{Pattern: regexp.MustCompile(`(?i)/(backyard|homestead)`), Persona: models.PersonaBackyard},
			{Pattern: regexp.MustCompile(`(?i)/(commercial|growers?|integrators?)`), Persona: models.PersonaCommercial},
			{Pattern: regexp.MustCompile(`(?i)/(garden|landscap)`), Persona: models.PersonaLawn},
		},
		Keywords: []KeywordSet{
			{Persona: models.PersonaBackyard, Keywords: []string{
				"backyard", "flock", "coop", "hen", "chick", "homestead", "pet chicken", "egg laying", "layer",
			}},
			{Persona: models.PersonaCommercial, Keywords: []string{
				"commercial", "broiler", "poultry house", "grower", "integrator", "bulk", "wholesale", "litter", "tote",
			}},
			{Persona: models.PersonaLawn, Keywords: []string{
				"lawn", "turf", "grass", "garden", "fertilizer", "sod", "landscape", "yard", "golf",
			}},
		},
	}
}

// rulesFile is the on-disk YAML shape of a rules override.
type rulesFile struct {
	URLRules []struct {
		Pattern string `yaml:"pattern"`
		Persona string `yaml:"persona"`
	} `yaml:"url_rules"`
	Keywords []struct {
		Persona  string   `yaml:"persona"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"keywords"`
}

// LoadRules reads a YAML rules file. Sections missing from the file keep their
// built-in defaults.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules, see LoadRules.
func ParseRules(data []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}

	rules := DefaultRules()

	if len(f.URLRules) > 0 {
		urlRules := make([]URLRule, 0, len(f.URLRules))
		for i, r := range f.URLRules {
			p := models.PersonaID(strings.ToLower(strings.TrimSpace(r.Persona)))
			if !p.Valid() {
				return nil, fmt.Errorf("url rule %d: unknown persona %q", i, r.Persona)
			}
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("url rule %d: %w", i, err)
			}
			urlRules = append(urlRules, URLRule{Pattern: re, Persona: p})
		}
		rules.URLRules = urlRules
	}

	if len(f.Keywords) > 0 {
		sets := make([]KeywordSet, 0, len(f.Keywords))
		for _, k := range f.Keywords {
			p := models.PersonaID(strings.ToLower(strings.TrimSpace(k.Persona)))
			if !p.Valid() {
				return nil, fmt.Errorf("keywords: unknown persona %q", k.Persona)
			}
			words := make([]string, 0, len(k.Keywords))
			for _, w := range k.Keywords {
				if w = strings.TrimSpace(normalize(w)); w != "" {
					words = append(words, w)
				}
			}
			sets = append(sets, KeywordSet{Persona: p, Keywords: words})
		}
		rules.Keywords = sets
	}

	return rules, nil
}
