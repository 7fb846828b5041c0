package testevents

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/spawnfence/pkg/logger"
)

// Event kinds the generator mixes into a run.
const (
	KindValid     = "valid"
	KindPerfect   = "perfect"
	KindZero      = "zero"
	KindMissing   = "missing_stat"
	KindFarAway   = "far_away"
	KindOtherType = "other_type"
	KindRepeat    = "repeat"
)

// Percent thresholds for the kind roll, cumulative.
const (
	perfectBelow   = 4
	zeroBelow      = 6
	missingBelow   = 11
	farAwayBelow   = 16
	otherTypeBelow = 21
	repeatBelow    = 26
)

const (
	maxStat        = 15
	maxPokemonID   = 1010
	maxForm        = 3000
	maxPVPRank     = 100
	farAwayOffset  = 60.0
	shinyOneIn     = 64
	maxLifetimeSec = 3600
	minLifetimeSec = 60
)

var leagues = []string{"great", "little", "ultra"}

// Generator builds pokemon webhook payloads with a realistic mix of valid,
// invalid and repeated sightings.
type Generator struct {
	rng    *rand.Rand
	config *Config
	now    func() time.Time
	seen   []Envelope
	kinds  map[string]int
}

// NewGenerator creates a generator for config.
func NewGenerator(config *Config) *Generator {
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Generator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		config: config,
		now:    time.Now,
		kinds:  make(map[string]int),
	}
}

// Kinds returns how many events of each kind were generated so far.
func (g *Generator) Kinds() map[string]int {
	out := make(map[string]int, len(g.kinds))
	for k, v := range g.kinds {
		out[k] = v
	}
	return out
}

// Next returns one webhook array element.
func (g *Generator) Next() Envelope {
	roll := g.rng.IntN(100)
	var (
		env  Envelope
		kind string
	)
	switch {
	case roll < perfectBelow:
		kind, env = KindPerfect, g.pokemon(g.stats(maxStat), false)
	case roll < zeroBelow:
		kind, env = KindZero, g.pokemon(g.stats(0), false)
	case roll < missingBelow:
		kind, env = KindMissing, g.missingStat()
	case roll < farAwayBelow:
		kind, env = KindFarAway, g.pokemon(g.randomStats(), true)
	case roll < otherTypeBelow:
		kind, env = KindOtherType, g.otherType()
	case roll < repeatBelow && len(g.seen) > 0:
		kind, env = KindRepeat, g.seen[g.rng.IntN(len(g.seen))]
	default:
		kind, env = KindValid, g.pokemon(g.randomStats(), false)
	}
	switch kind {
	case KindValid, KindPerfect, KindZero:
		g.seen = append(g.seen, env)
	}
	g.kinds[kind]++
	return env
}

// Payloads splits n generated events into webhook arrays of at most size.
func (g *Generator) Payloads(n, size int) [][]Envelope {
	if size <= 0 {
		size = n
	}
	var out [][]Envelope
	for n > 0 {
		k := min(size, n)
		batch := make([]Envelope, k)
		for i := range batch {
			batch[i] = g.Next()
		}
		out = append(out, batch)
		n -= k
	}
	return out
}

func (g *Generator) pokemon(stats [3]*int, far bool) Envelope {
	lat := g.config.CenterLat + g.offset()
	lon := g.config.CenterLon + g.offset()
	if far {
		lat = clampLat(g.config.CenterLat + farAwayOffset)
	}

	firstSeen := g.now().Unix()
	msg := PokemonMessage{
		PokemonID:         1 + g.rng.IntN(maxPokemonID),
		Form:              g.rng.IntN(maxForm),
		Latitude:          lat,
		Longitude:         lon,
		IndividualAttack:  stats[0],
		IndividualDefense: stats[1],
		IndividualStamina: stats[2],
		PVP:               g.pvp(),
		Shiny:             g.rng.IntN(shinyOneIn) == 0,
		FirstSeen:         firstSeen,
		DisappearTime:     firstSeen + int64(minLifetimeSec+g.rng.IntN(maxLifetimeSec-minLifetimeSec)),
	}
	return Envelope{Type: "pokemon", Message: msg}
}

func (g *Generator) missingStat() Envelope {
	stats := g.randomStats()
	stats[g.rng.IntN(len(stats))] = nil
	return g.pokemon(stats, false)
}

func (g *Generator) otherType() Envelope {
	types := []string{"raid", "quest", "gym_details", "invasion"}
	return Envelope{
		Type:    types[g.rng.IntN(len(types))],
		Message: map[string]any{"latitude": g.config.CenterLat, "longitude": g.config.CenterLon},
	}
}

func (g *Generator) pvp() map[string][]PVPEntry {
	out := make(map[string][]PVPEntry)
	for _, league := range leagues {
		if g.rng.IntN(2) == 0 {
			continue
		}
		n := 1 + g.rng.IntN(3)
		entries := make([]PVPEntry, n)
		for i := range entries {
			entries[i] = PVPEntry{Rank: 1 + g.rng.IntN(maxPVPRank)}
		}
		out[league] = entries
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (g *Generator) stats(v int) [3]*int {
	a, d, s := v, v, v
	return [3]*int{&a, &d, &s}
}

func (g *Generator) randomStats() [3]*int {
	a, d, s := g.rng.IntN(maxStat+1), g.rng.IntN(maxStat+1), g.rng.IntN(maxStat+1)
	return [3]*int{&a, &d, &s}
}

func (g *Generator) offset() float64 {
	return (g.rng.Float64()*2 - 1) * g.config.Spread
}

func clampLat(lat float64) float64 {
	if lat > 89 {
		return lat - 2*farAwayOffset
	}
	return lat
}

// generatePayloads creates the webhook arrays for a run.
func generatePayloads(ctx context.Context, config *Config, stats *Stats) ([][]Envelope, map[string]int, error) {
	if config.NumEvents <= 0 {
		return nil, nil, fmt.Errorf("number of events must be positive, got %d", config.NumEvents)
	}
	logger.Get().Info(ctx, "generating webhook payloads",
		logger.Int("numEvents", config.NumEvents),
		logger.Int("batchSize", config.BatchSize))

	g := NewGenerator(config)
	payloads := g.Payloads(config.NumEvents, config.BatchSize)
	kinds := g.Kinds()

	stats.EventsGenerated = config.NumEvents
	logger.Get().Info(ctx, "generated payloads successfully",
		logger.Int("posts", len(payloads)),
		logger.Any("kinds", kinds))
	return payloads, kinds, nil
}
