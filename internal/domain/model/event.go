// Package model contains domain models passed between layers.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// EventTypePokemon is the only webhook type the pipeline ingests.
const EventTypePokemon = "pokemon"

// Envelope is one element of a webhook array. Message stays raw until Type
// selects the concrete shape.
type Envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// PVPEntry is one ranking row of a league.
type PVPEntry struct {
	Rank *int `json:"rank"`
}

// RawEvent is a pokemon webhook message as received. Every field is optional
// on the wire; presence is enforced by the normalizer.
type RawEvent struct {
	PokemonID         *int                  `json:"pokemon_id" validate:"required"`
	Form              *int                  `json:"form" validate:"required"`
	Latitude          *float64              `json:"latitude" validate:"required"`
	Longitude         *float64              `json:"longitude" validate:"required"`
	IndividualAttack  *int                  `json:"individual_attack" validate:"required"`
	IndividualDefense *int                  `json:"individual_defense" validate:"required"`
	IndividualStamina *int                  `json:"individual_stamina" validate:"required"`
	PVP               map[string][]PVPEntry `json:"pvp"`
	Shiny             *bool                 `json:"shiny"`
	DisappearTime     *int64                `json:"disappear_time"`
	FirstSeen         *int64                `json:"first_seen"`
}

// Sighting is a normalized, geofenced event ready for storage.
//
// Fields are declared in JSON key order so the encoding used for the content
// key is canonical.
type Sighting struct {
	AreaName      string  `json:"area_name" db:"area_name"`
	DespawnTime   *int64  `json:"despawn_time" db:"despawn_time"`
	Form          int     `json:"form" db:"form"`
	IV            *int    `json:"iv" db:"iv"`
	Latitude      float64 `json:"latitude" db:"latitude"`
	Longitude     float64 `json:"longitude" db:"longitude"`
	PokemonID     int     `json:"pokemon_id" db:"pokemon_id"`
	PVPGreatRank  *int    `json:"pvp_great_rank" db:"pvp_great_rank"`
	PVPLittleRank *int    `json:"pvp_little_rank" db:"pvp_little_rank"`
	PVPUltraRank  *int    `json:"pvp_ultra_rank" db:"pvp_ultra_rank"`
	Shiny         bool    `json:"shiny" db:"shiny"`
}

// ContentKey hashes the canonical encoding of s. Identical sightings always
// produce the same key.
func (s Sighting) ContentKey() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode sighting: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// QueueItem is a buffered sighting together with its content key.
type QueueItem struct {
	ContentKey string   `json:"content_key"`
	Sighting   Sighting `json:"sighting"`
}

// NewQueueItem computes the content key of s and wraps it.
func NewQueueItem(s Sighting) (QueueItem, error) {
	key, err := s.ContentKey()
	if err != nil {
		return QueueItem{}, err
	}
	return QueueItem{ContentKey: key, Sighting: s}, nil
}

// Batch is the unit handed to the task queue. Key is derived from the ordered
// content keys of Items, so the same items in the same order always share a key.
type Batch struct {
	Key   string      `json:"batch_key"`
	Items []QueueItem `json:"items"`
}

// NewBatch builds a batch over items, keeping their order.
func NewBatch(items []QueueItem) Batch {
	return Batch{Key: BatchKey(items), Items: items}
}

// BatchKey hashes the ordered content keys of items.
func BatchKey(items []QueueItem) string {
	var sb strings.Builder
	sb.Grow(len(items) * (sha256.Size*2 + 1))
	for _, it := range items {
		sb.WriteString(it.ContentKey)
		sb.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Sightings returns the sightings of the batch in order.
func (b Batch) Sightings() []Sighting {
	out := make([]Sighting, len(b.Items))
	for i, it := range b.Items {
		out[i] = it.Sighting
	}
	return out
}

// EncodeBatch serializes b for the task queue.
func EncodeBatch(b Batch) ([]byte, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode batch %s: %w", b.Key, err)
	}
	return payload, nil
}

// DecodeBatch parses a task queue payload. A payload whose key does not match
// its items is rejected.
func DecodeBatch(payload []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if b.Key == "" || len(b.Items) == 0 {
		return Batch{}, fmt.Errorf("%w: empty batch", ErrMalformedBatch)
	}
	if BatchKey(b.Items) != b.Key {
		return Batch{}, fmt.Errorf("%w: key mismatch for %s", ErrMalformedBatch, b.Key)
	}
	return b, nil
}
