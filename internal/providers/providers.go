package providers

import (
	"context"

	"course-harvest/internal/domain"
)

// Credentials select how a platform obtains its session. Username and
// password are never handled; the operator logs in inside the browser.
type Credentials struct {
	// Token is a pre-captured bearer value or cookie string. When set, no
	// browser is launched.
	Token string

	// BrowserEmulation permits the interactive browser login.
	BrowserEmulation bool

	// Confirm optionally carries the operator's "logged in" signal.
	Confirm <-chan struct{}
}

// Platform is the capability set every content platform implements.
type Platform interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) error
	ListCourses(ctx context.Context) ([]domain.Course, error)
	// BuildContentTree skips courses whose curriculum cannot be fetched.
	BuildContentTree(ctx context.Context, courses []domain.Course) ([]domain.CourseTree, error)
	// ResolveLesson fills in downloadable URLs; failures leave fields empty.
	ResolveLesson(ctx context.Context, lesson domain.Lesson) domain.Lesson
	Download(ctx context.Context, url, dest string) (int64, error)
}
