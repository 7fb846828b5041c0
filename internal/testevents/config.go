package testevents

import "time"

// Config holds configuration for a webhook load run.
type Config struct {
	BaseURL    string        // Base URL of the receiver
	NumEvents  int           // Number of pokemon events to generate
	BatchSize  int           // Events per webhook POST
	Workers    int           // Number of concurrent senders
	Timeout    time.Duration // HTTP request timeout
	CenterLat  float64       // Latitude the sightings scatter around
	CenterLon  float64       // Longitude the sightings scatter around
	Spread     float64       // Max offset in degrees from the center
	Seed       uint64        // Random seed; 0 picks one from the clock
	OutputFile string        // Output file for generated payloads
	LogFile    string        // Log file for test output
	Verbose    bool          // Enable verbose logging
	SettleWait time.Duration // Wait before reading receiver stats
}

// Envelope is one element of a webhook array.
type Envelope struct {
	Type    string `json:"type"`
	Message any    `json:"message"`
}

// PVPEntry is one league ranking row.
type PVPEntry struct {
	Rank int `json:"rank"`
}

// PokemonMessage is the message of a pokemon webhook. Stats are pointers so
// the generator can leave them out.
type PokemonMessage struct {
	PokemonID         int                   `json:"pokemon_id"`
	Form              int                   `json:"form"`
	Latitude          float64               `json:"latitude"`
	Longitude         float64               `json:"longitude"`
	IndividualAttack  *int                  `json:"individual_attack,omitempty"`
	IndividualDefense *int                  `json:"individual_defense,omitempty"`
	IndividualStamina *int                  `json:"individual_stamina,omitempty"`
	PVP               map[string][]PVPEntry `json:"pvp,omitempty"`
	Shiny             bool                  `json:"shiny"`
	DisappearTime     int64                 `json:"disappear_time"`
	FirstSeen         int64                 `json:"first_seen"`
}

// WebhookResponse is the receiver's answer to one POST.
type WebhookResponse struct {
	Status    string `json:"status"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
	Unmatched int    `json:"unmatched"`
	Duplicate int    `json:"duplicate"`
	Ignored   int    `json:"ignored"`
}

// ReceiverStats is the subset of GET /stats the tool reports on.
type ReceiverStats struct {
	QueueLength int   `json:"queueLength"`
	Geofences   int   `json:"geofences"`
	Accepted    int64 `json:"accepted"`
	Rejected    int64 `json:"rejected"`
	Unmatched   int64 `json:"unmatched"`
	Duplicate   int64 `json:"duplicate"`
	Ignored     int64 `json:"ignored"`
}

// Stats holds test statistics.
type Stats struct {
	EventsGenerated int
	PostsSubmitted  int
	PostsSuccessful int
	PostsFailed     int
	Accepted        int
	Rejected        int
	Unmatched       int
	Duplicate       int
	Ignored         int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}

// counted returns the number of elements the receiver reported on.
func (s *Stats) counted() int {
	return s.Accepted + s.Rejected + s.Unmatched + s.Duplicate + s.Ignored
}
