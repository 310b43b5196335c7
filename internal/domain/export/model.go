package export

// Envelope is the inbound submission batch.
type Envelope struct {
	Messages []Message `json:"Messages"`
}

type Message struct {
	Body Body `json:"Body"`
}

// Body carries one form submission: the form it belongs to and a flat
// field → value mapping including the reserved SubmissionDate, deviceid
// and meta/instanceID keys.
type Body struct {
	FormID string            `json:"formId"`
	Data   map[string]string `json:"data"`
}

// ItemResult is the translation outcome for one submission in a batch.
type ItemResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

const (
	statusQueued  = "queued"
	statusSkipped = "skipped"
)

// BatchResult reports the translation stage of a whole batch. Remote
// writes happen after the fact on the worker pool; their outcomes land
// in the log, not here.
type BatchResult struct {
	Form    string       `json:"form"`
	Class   string       `json:"class"`
	Queued  int          `json:"queued"`
	Skipped int          `json:"skipped"`
	Items   []ItemResult `json:"items"`
}
