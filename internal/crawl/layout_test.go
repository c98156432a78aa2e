package crawl

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"course-harvest/internal/domain"
)

func TestSanitizeName(t *testing.T) {
	testCases := []struct {
		in, expected string
	}{
		{"Intro: What/Why?", "Intro What Why"},
		{"  spaced   out  ", "spaced out"},
		{"tab\tand\nnewline", "tab and newline"},
		{"trailing dots...", "trailing dots"},
		{`a<b>c"d|e*f\g`, "a b c d e f g"},
		{"", ""},
		{"???", ""},
		{"Ünïcödé ok", "Ünïcödé ok"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, SanitizeName(tc.in), "SanitizeName(%q)", tc.in)
	}
}

func TestSanitizeNameTruncates(t *testing.T) {
	got := SanitizeName(strings.Repeat("é", 300))
	assert.Equal(t, maxNameRunes, len([]rune(got)))
}

func TestLessonDir(t *testing.T) {
	c := domain.Course{ID: "42", Name: "Go in Practice", Slug: "go-practice"}
	m := domain.Module{Name: "Basics: Part 1"}
	l := domain.Lesson{Name: "Hello/World"}

	got := lessonDir("out", c, 3, m, 12, l)
	assert.Equal(t, filepath.Join("out", "go-practice", "03 - Basics Part 1", "12 - Hello World"), got)

	got = lessonDir("out", domain.Course{ID: "7", Name: "???"}, 1, domain.Module{}, 1, domain.Lesson{})
	assert.Equal(t, filepath.Join("out", "7", "01", "01"), got)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "Hello - 720.mp4", videoFile(domain.Video{Title: "Hello - 720"}))
	assert.Equal(t, "video.mp4", videoFile(domain.Video{}))

	assert.Equal(t, "notes.pdf", attachmentFile(domain.Attachment{Filename: "notes.pdf"}))
	assert.Equal(t, "attachment-03.zip", attachmentFile(domain.Attachment{Order: 3, Extension: "zip"}))
	assert.Equal(t, "attachment-01", attachmentFile(domain.Attachment{Order: 1}))
}

func TestAttachmentFilesAvoidCollisions(t *testing.T) {
	atts := []domain.Attachment{
		{Filename: "slides.pdf", Order: 1},
		{Filename: "Slides.pdf", Order: 2},
		{Filename: "code.zip", Order: 3},
		{Filename: "slides.pdf", Order: 2},
		{Filename: "Intro - 1080.mp4", Order: 5},
	}

	got := attachmentFiles("Intro - 1080.mp4", atts)
	assert.Equal(t, []string{
		"slides.pdf",
		"02 - Slides.pdf",
		"code.zip",
		"02-2 - slides.pdf",
		"05 - Intro - 1080.mp4",
	}, got)

	assert.Equal(t, []string{"notes.pdf"}, attachmentFiles("", []domain.Attachment{{Filename: "notes.pdf", Order: 1}}))
	assert.Empty(t, attachmentFiles("", nil))
}
