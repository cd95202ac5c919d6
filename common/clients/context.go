package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ReviewerKey is the context key for the acting reviewer
// (for the X-Reviewer header)
const ReviewerKey contextKey = "reviewer"

// WithReviewer adds the acting reviewer to the context.
// Outbound HTTP requests carry it as the X-Reviewer header.
func WithReviewer(ctx context.Context, reviewer string) context.Context {
	return context.WithValue(ctx, ReviewerKey, reviewer)
}

// GetReviewer retrieves the acting reviewer from context.
// Returns the reviewer and true if found, empty string and false otherwise.
func GetReviewer(ctx context.Context) (string, bool) {
	reviewer, ok := ctx.Value(ReviewerKey).(string)
	return reviewer, ok && reviewer != ""
}
