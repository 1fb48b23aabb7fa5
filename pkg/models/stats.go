package models

import "time"

// Channel is an outbound delivery channel tracked by per-channel counters.
type Channel string

const (
	ChannelEmail        Channel = "email"
	ChannelSMS          Channel = "sms"
	ChannelWebhook      Channel = "webhook"
	ChannelTag          Channel = "tag"
	ChannelNotification Channel = "notification"
)

// JourneyStats holds the running aggregate counters for one journey. Counters
// are monotonic except Active, which also decreases when enrollments finish.
// They are maintained transactionally with the enrollment transition that
// causes them, never recomputed by scanning enrollments on the read path.
type JourneyStats struct {
	JourneyID        string            `json:"journey_id"`
	Enrolled         int64             `json:"enrolled"`
	Active           int64             `json:"active"`
	Completed        int64             `json:"completed"`
	Failed           int64             `json:"failed"`
	Exited           int64             `json:"exited"`
	ChannelTriggered map[Channel]int64 `json:"channel_triggered,omitempty"`
	ChannelDelivered map[Channel]int64 `json:"channel_delivered,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ConversionRate returns completed over enrolled, zero when nothing enrolled.
func (s *JourneyStats) ConversionRate() float64 {
	if s.Enrolled == 0 {
		return 0
	}

	return float64(s.Completed) / float64(s.Enrolled)
}
