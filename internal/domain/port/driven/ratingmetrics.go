package driven

// RatingMetrics receives rating-level events for observability. Implementations must be
// safe for concurrent use.
type RatingMetrics interface {
	SubmissionRecorded(outcome string)
	CorruptHistoryDetected()
	WriteBackFailed()
}
