package archive

import "time"

// EventRecord is the snapshot of a closed crisis event written to S3 for
// retention. The user id is hashed and free text is scrubbed.
type EventRecord struct {
	Version           string        `json:"version"` // "1.0"
	EventID           string        `json:"event_id"`
	UserHash          string        `json:"user_hash"`
	Source            string        `json:"source"`
	FlagLevel         string        `json:"flag_level"`
	FinalStatus       string        `json:"final_status"`
	Confidence        float64       `json:"confidence"`
	MatchedCategories []string      `json:"matched_categories,omitempty"`
	DetectedAt        time.Time     `json:"detected_at"`
	ClosedAt          time.Time     `json:"closed_at"`
	ArchivedAt        time.Time     `json:"archived_at"`
	Notes             string        `json:"notes,omitempty"`
	StatusHistory     []StatusEntry `json:"status_history"`
}

// StatusEntry is one archived transition.
type StatusEntry struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
	Notes string    `json:"notes,omitempty"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	EventID     string `json:"event_id"`
	S3Key       string `json:"s3_key"`
	FlagLevel   string `json:"flag_level"`
	FinalStatus string `json:"final_status"`
	ArchivedAt  string `json:"archived_at"`
	Transitions int    `json:"transitions"`
}
