package material

import "strings"

// DefaultCategories is the category set the library ships with.
var DefaultCategories = Categories{"textbooks", "algebra", "geometry", "useful"}

// Categories is the closed set of category keys offered by a front end.
// The store itself only requires a non-empty key.
type Categories []string

// ParseCategories splits a comma-separated list, dropping blanks.
func ParseCategories(s string) Categories {
	var out Categories
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Categories) Contains(key string) bool {
	for _, k := range c {
		if k == key {
			return true
		}
	}
	return false
}

func (c Categories) String() string {
	return strings.Join(c, ",")
}
