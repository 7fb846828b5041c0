package testevents

import "time"

// HTTP status code constants.
const (
	StatusOK = 200
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DefaultSettleWait    = 15 * time.Second
	PercentageMultiplier = 100
)

// Webhook paths on the receiver.
const (
	webhookPath = "/webhook"
	healthPath  = "/healthz"
	statsPath   = "/stats"
)
