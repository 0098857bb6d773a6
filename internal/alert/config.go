package alert

// Event types a webhook can subscribe to.
const (
	EventRecordFailed = "record_failed"
	EventFailureRate  = "failure_rate"
)

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"     validate:"required,url"`
	Format  string            `yaml:"format"  json:"format"  validate:"omitempty,oneof=json slack"`
	Events  []string          `yaml:"events"  json:"events"  validate:"required,min=1,dive,oneof=record_failed failure_rate"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp   string  `json:"timestamp"`
	Type        string  `json:"type"`
	Direction   string  `json:"direction"`
	RunID       string  `json:"run_id,omitempty"`
	EntityKey   string  `json:"entity_key,omitempty"` // masked
	ChangeID    string  `json:"change_id,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	Attempted   int     `json:"attempted,omitempty"`
	Failed      int     `json:"failed,omitempty"`
	FailureRate float64 `json:"failure_rate,omitempty"`
}
