package udemy

import "course-harvest/internal/domain"

// BuildModules folds a flat curriculum feed into modules.
//
// Chapters open a new module. A course without any chapter gets one default
// module named after the course; lectures seen before the first chapter go
// to a synthesized "Introduction" module. Other item classes (quizzes,
// practice tests) are dropped. Feed order is preserved throughout.
func BuildModules(course domain.Course, items []domain.CurriculumItem) []domain.Module {
	var modules []domain.Module
	current := -1

	if !hasChapter(items) {
		modules = append(modules, domain.Module{ID: "c_" + course.ID + "_default", Name: course.Name})
		current = 0
	}

	for _, it := range items {
		switch it.Class {
		case domain.ClassChapter:
			modules = append(modules, domain.Module{ID: it.ID, Name: it.Title})
			current = len(modules) - 1
		case domain.ClassLecture:
			if current < 0 {
				modules = append(modules, domain.Module{ID: "c_" + course.ID + "_startup", Name: "Introduction"})
				current = len(modules) - 1
			}
			modules[current].Lessons = append(modules[current].Lessons, domain.Lesson{
				ID:            it.ID,
				Name:          it.Title,
				Asset:         it.Asset,
				Supplementary: it.Supplementary,
			})
		}
	}
	return modules
}

func hasChapter(items []domain.CurriculumItem) bool {
	for _, it := range items {
		if it.Class == domain.ClassChapter {
			return true
		}
	}
	return false
}
