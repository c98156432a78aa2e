package crawl

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"course-harvest/internal/domain"
)

const maxNameRunes = 120

// SanitizeName makes s safe as a single path segment on common filesystems.
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.Trim(out, ". ")

	if r := []rune(out); len(r) > maxNameRunes {
		out = strings.TrimRight(string(r[:maxNameRunes]), ". ")
	}
	return out
}

func courseDir(c domain.Course) string {
	for _, s := range []string{c.Slug, c.Name, c.ID} {
		if n := SanitizeName(s); n != "" {
			return n
		}
	}
	return "course"
}

func numbered(i int, name string) string {
	if n := SanitizeName(name); n != "" {
		return fmt.Sprintf("%02d - %s", i, n)
	}
	return fmt.Sprintf("%02d", i)
}

// lessonDir is {out}/{course}/{NN - module}/{NN - lesson}; indexes are 1-based.
func lessonDir(out string, c domain.Course, mi int, m domain.Module, li int, l domain.Lesson) string {
	return filepath.Join(out, courseDir(c), numbered(mi, m.Name), numbered(li, l.Name))
}

func videoFile(v domain.Video) string {
	name := SanitizeName(v.Title)
	if name == "" {
		name = "video"
	}
	return name + ".mp4"
}

func attachmentFile(a domain.Attachment) string {
	if name := SanitizeName(a.Filename); name != "" {
		return name
	}
	name := fmt.Sprintf("attachment-%02d", a.Order)
	if a.Extension != "" {
		name += "." + SanitizeName(a.Extension)
	}
	return name
}

// attachmentFiles names a lesson's attachments in order. A name already
// taken in the lesson (case-insensitively, the video included) gets an
// "NN - " prefix from the attachment's order.
func attachmentFiles(video string, atts []domain.Attachment) []string {
	taken := make(map[string]bool, len(atts)+1)
	if video != "" {
		taken[strings.ToLower(video)] = true
	}
	out := make([]string, len(atts))
	for i, a := range atts {
		base := attachmentFile(a)
		name := base
		for n := 1; taken[strings.ToLower(name)]; n++ {
			if n == 1 {
				name = numbered(a.Order, base)
			} else {
				name = fmt.Sprintf("%02d-%d - %s", a.Order, n, base)
			}
		}
		taken[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}
