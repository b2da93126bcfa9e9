package domain

// Exchange is the audit record written for each handled request.
// It never carries prompt or completion text.
type Exchange struct {
	PK            string
	SK            string
	ID            string
	Route         string
	Status        int
	CorrelationID string
	Model         string
	DurationMs    int64
	CreatedAt     string
	TTL           int64
}
