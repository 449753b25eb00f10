package models

import "math"

// PersonaID names one of the fixed audience segments.
type PersonaID string

const (
	PersonaBackyard   PersonaID = "backyard"
	PersonaCommercial PersonaID = "commercial"
	PersonaLawn       PersonaID = "lawn"
	PersonaGeneral    PersonaID = "general"
)

// Personas lists every persona in enumeration order. Ties are broken by this order.
var Personas = []PersonaID{PersonaBackyard, PersonaCommercial, PersonaLawn, PersonaGeneral}

// Valid reports whether p is a known persona.
func (p PersonaID) Valid() bool {
	switch p {
	case PersonaBackyard, PersonaCommercial, PersonaLawn, PersonaGeneral:
		return true
	}
	return false
}

// PersonaScores is a probability distribution over the four personas.
type PersonaScores struct {
	Backyard   float64 `json:"backyard"`
	Commercial float64 `json:"commercial"`
	Lawn       float64 `json:"lawn"`
	General    float64 `json:"general"`
}

// DefaultPersonaScores returns the uniform distribution.
func DefaultPersonaScores() PersonaScores {
	return PersonaScores{Backyard: 0.25, Commercial: 0.25, Lawn: 0.25, General: 0.25}
}

// Get returns the score for p. Unknown personas score zero.
func (s PersonaScores) Get(p PersonaID) float64 {
	switch p {
	case PersonaBackyard:
		return s.Backyard
	case PersonaCommercial:
		return s.Commercial
	case PersonaLawn:
		return s.Lawn
	case PersonaGeneral:
		return s.General
	}
	return 0
}

// Set assigns the score for p. Unknown personas are ignored.
func (s *PersonaScores) Set(p PersonaID, v float64) {
	switch p {
	case PersonaBackyard:
		s.Backyard = v
	case PersonaCommercial:
		s.Commercial = v
	case PersonaLawn:
		s.Lawn = v
	case PersonaGeneral:
		s.General = v
	}
}

// Sum returns the total mass of the distribution.
func (s PersonaScores) Sum() float64 {
	return s.Backyard + s.Commercial + s.Lawn + s.General
}

// Normalized scales the scores to sum to 1. A zero (or non-finite) total yields the
// uniform default.
func (s PersonaScores) Normalized() PersonaScores {
	total := s.Sum()
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return DefaultPersonaScores()
	}
	return PersonaScores{
		Backyard:   s.Backyard / total,
		Commercial: s.Commercial / total,
		Lawn:       s.Lawn / total,
		General:    s.General / total,
	}
}
