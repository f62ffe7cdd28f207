package models

import "time"

type ViewIntent string

const (
	ViewIntentIntentional ViewIntent = "intentional"
	ViewIntentAutomated   ViewIntent = "automated"
)

// UnsyncedClockSentinel is the local-timestamp value devices report when
// their clock has never been synchronized. Such events store a null local
// timestamp and are ordered by server receipt time.
const UnsyncedClockSentinel int64 = -1

// ViewEvent is one validated telemetry event, attributed to exactly one
// content item and one device. Never mutated after construction.
type ViewEvent struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	ContentID       string     `json:"content_id"`
	DeviceKey       string     `json:"device_key"`
	ViewerAccountID *string    `json:"viewer_account_id,omitempty"`
	LocalTimestamp  *time.Time `json:"local_timestamp,omitempty"`
	Timezone        string     `json:"timezone"`
	Intent          ViewIntent `json:"intent"`
	Ordinal         int        `json:"ordinal"`
	Channel         string     `json:"channel"`
	ReceivedAt      time.Time  `json:"received_at"`
}

// ViewWireMessage is the raw fire-and-forget telemetry payload as it
// arrives on the view topic.
type ViewWireMessage struct {
	ContentID      string     `json:"content_id" validate:"required"`
	DeviceKey      string     `json:"device_key" validate:"required"`
	LocalTimestamp int64      `json:"local_timestamp"`
	Timezone       string     `json:"timezone"`
	Intent         ViewIntent `json:"intent" validate:"required,oneof=intentional automated"`
	Ordinal        int        `json:"ordinal"`
	Channel        string     `json:"channel"`
}
