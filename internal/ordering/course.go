package ordering

import "maitred/internal/models"

// Policy tunes course firing
type Policy struct {
	// AutoFireLowestCourse releases a line whose course is the lowest among
	// the active food lines without waiting for FireCourse.
	AutoFireLowestCourse bool
}

// DefaultPolicy returns the default firing policy
func DefaultPolicy() Policy {
	return Policy{AutoFireLowestCourse: true}
}

// ShouldRelease decides whether a new line goes to its station right away.
// Drinks and starters always go. Any other course goes once a line of the
// same course has started, or when it is the lowest course still in play.
func ShouldRelease(items []models.OrderItem, candidate models.OrderItem, policy Policy) bool {
	if candidate.Type == models.ItemTypeDrink || candidate.Course == models.CourseDrinks {
		return true
	}
	if candidate.Course == models.CourseStarter {
		return true
	}

	candidateKey := candidate.Key()
	for i := range items {
		it := &items[i]
		if candidateKey != "" && it.Key() == candidateKey {
			continue
		}
		if !it.IsCancelled() && it.Course == candidate.Course && it.IsStarted {
			return true
		}
	}

	if !policy.AutoFireLowestCourse {
		return false
	}
	lowest := candidate.Course
	for i := range items {
		it := &items[i]
		if it.IsCancelled() || it.Status == models.ItemStatusServed {
			continue
		}
		if it.Type == models.ItemTypeDrink || it.Course == models.CourseDrinks {
			continue
		}
		if it.Course < lowest {
			lowest = it.Course
		}
	}
	return candidate.Course == lowest
}

// heldInCourse returns the keys of lines in the course still waiting to fire
func heldInCourse(items []models.OrderItem, course int) []string {
	var keys []string
	for i := range items {
		it := &items[i]
		if it.Course != course || it.IsStarted || it.IsCancelled() || !it.Preparable() {
			continue
		}
		keys = append(keys, it.Key())
	}
	return keys
}
