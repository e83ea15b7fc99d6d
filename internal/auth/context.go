package auth

import "context"

// GetSubjectFromContext retrieves the authenticated token subject from the
// request context. Returns the subject and true if found.
func GetSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
