// Package normalize turns raw pokemon webhook messages into sightings.
package normalize

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/okian/spawnfence/internal/domain/model"
)

// Stat values that map to the two tracked IV buckets.
const (
	maxStat = 15
	minStat = 0

	ivPerfect = 100
	ivZero    = 0

	topRank = 1
)

// PVP league keys in the webhook payload.
const (
	LeagueGreat  = "great"
	LeagueLittle = "little"
	LeagueUltra  = "ultra"
)

// Rejection reasons.
const (
	ReasonIncomplete = "incomplete"
	ReasonMalformed  = "malformed"
)

// Normalizer validates raw events and derives the stored attributes.
type Normalizer struct {
	validate *validator.Validate
}

// New returns a Normalizer. Field names in errors use the JSON tag.
func New() *Normalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Normalizer{validate: v}
}

// Decode parses a pokemon message. A body that does not fit the expected
// shape is rejected as malformed.
func (n *Normalizer) Decode(message []byte) (model.RawEvent, error) {
	var raw model.RawEvent
	if len(message) == 0 {
		return raw, &model.ValidationError{Reason: ReasonMalformed}
	}
	if err := json.Unmarshal(message, &raw); err != nil {
		return raw, &model.ValidationError{Reason: ReasonMalformed, Fields: []string{err.Error()}}
	}
	return raw, nil
}

// Normalize validates raw and returns the derived sighting without an area.
// A missing required field yields a *model.ValidationError; zero values are
// accepted, only absent fields are rejected.
func (n *Normalizer) Normalize(raw model.RawEvent) (model.Sighting, error) { //nolint:gocritic // hugeParam: RawEvent is only pointers and a map
	if err := n.validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return model.Sighting{}, &model.ValidationError{Reason: ReasonIncomplete, Fields: fields}
		}
		return model.Sighting{}, &model.ValidationError{Reason: ReasonMalformed}
	}

	s := model.Sighting{
		PokemonID:     *raw.PokemonID,
		Form:          *raw.Form,
		Latitude:      *raw.Latitude,
		Longitude:     *raw.Longitude,
		IV:            IV(*raw.IndividualAttack, *raw.IndividualDefense, *raw.IndividualStamina),
		PVPGreatRank:  TopRank(raw.PVP[LeagueGreat]),
		PVPLittleRank: TopRank(raw.PVP[LeagueLittle]),
		PVPUltraRank:  TopRank(raw.PVP[LeagueUltra]),
		DespawnTime:   DespawnTime(raw.DisappearTime, raw.FirstSeen),
	}
	if raw.Shiny != nil {
		s.Shiny = *raw.Shiny
	}
	return s, nil
}

// IV returns 100 for a perfect stat spread, 0 for an all-zero spread and nil
// for everything in between.
func IV(attack, defense, stamina int) *int {
	switch {
	case attack == maxStat && defense == maxStat && stamina == maxStat:
		v := ivPerfect
		return &v
	case attack == minStat && defense == minStat && stamina == minStat:
		v := ivZero
		return &v
	default:
		return nil
	}
}

// TopRank returns 1 when any entry of the league holds rank 1, else nil.
func TopRank(entries []model.PVPEntry) *int {
	for _, e := range entries {
		if e.Rank != nil && *e.Rank == topRank {
			v := topRank
			return &v
		}
	}
	return nil
}

// DespawnTime is disappear minus first seen in seconds. Missing inputs and
// negative spans yield nil.
func DespawnTime(disappear, firstSeen *int64) *int64 {
	if disappear == nil || firstSeen == nil {
		return nil
	}
	d := *disappear - *firstSeen
	if d < 0 {
		return nil
	}
	return &d
}
