package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"course-harvest/internal/domain"
)

// Lesson index columns. Keep header order EXACT; downstream sheets key on it.
var lessonHeader = []string{
	"COURSE_ID",
	"COURSE_TITLE",
	"COURSE_SLUG",
	"MODULE_INDEX",
	"MODULE_ID",
	"MODULE_TITLE",
	"LESSON_INDEX",
	"LESSON_ID",
	"LESSON_TITLE",
	"VIDEO_ASSET_ID",
	"DURATION_SEC",
	"ATTACHMENTS",
	"COURSE_URL",
}

// WriteLessonIndexCSV writes one row per lesson across all course trees.
// Indexes are 1-based, matching the on-disk folder numbering.
func WriteLessonIndexCSV(w io.Writer, trees []domain.CourseTree) error {
	cw := csv.NewWriter(w)
	// match typical spreadsheet imports
	cw.UseCRLF = true

	if err := cw.Write(lessonHeader); err != nil {
		return err
	}

	for _, t := range trees {
		for mi, m := range t.Modules {
			for li, l := range m.Lessons {
				if err := cw.Write(toLessonRow(t.Course, mi+1, m, li+1, l)); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func toLessonRow(c domain.Course, mi int, m domain.Module, li int, l domain.Lesson) []string {
	videoID, duration := "", ""
	if l.Asset != nil && l.Asset.Type == domain.AssetVideo {
		videoID = strconv.FormatInt(l.Asset.ID, 10)
		if l.Asset.TimeEstimation > 0 {
			duration = strconv.Itoa(l.Asset.TimeEstimation)
		}
	}

	// attachment file names, pipe-joined to keep the cell readable
	var files []string
	for _, s := range l.Supplementary {
		if s.Type == domain.AssetFile {
			files = append(files, s.Filename)
		}
	}
	attachments := strings.Join(cleanStrings(files), " | ")

	return []string{
		c.ID,             // COURSE_ID
		clean(c.Name),    // COURSE_TITLE
		c.Slug,           // COURSE_SLUG
		strconv.Itoa(mi), // MODULE_INDEX
		m.ID,             // MODULE_ID
		clean(m.Name),    // MODULE_TITLE
		strconv.Itoa(li), // LESSON_INDEX
		l.ID,             // LESSON_ID
		clean(l.Name),    // LESSON_TITLE
		videoID,          // VIDEO_ASSET_ID
		duration,         // DURATION_SEC
		attachments,      // ATTACHMENTS
		c.URL,            // COURSE_URL
	}
}

func clean(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = clean(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
