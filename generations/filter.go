package generations

import "strings"

// ProjectNames derives the distinct project names observed in a snapshot.
// Order follows first appearance; blanks are skipped.
func ProjectNames(snapshot []Record) []string {
	seen := make(map[string]struct{}, len(snapshot))
	names := make([]string, 0, len(snapshot))
	for i := range snapshot {
		name := snapshot[i].Project()
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Filter applies the browser filters to a snapshot. Both filters are optional
// and combined with AND: project is an exact match on the record's project
// name; search is a case-insensitive substring match against the keyword list
// for broll records and against the project name for every other type.
func Filter(snapshot []Record, project, search string) []Record {
	project = strings.TrimSpace(project)
	search = strings.ToLower(strings.TrimSpace(search))

	filtered := make([]Record, 0, len(snapshot))
	for i := range snapshot {
		record := snapshot[i]
		if project != "" && record.Project() != project {
			continue
		}
		if search != "" && !matchesSearch(&record, search) {
			continue
		}
		filtered = append(filtered, record)
	}
	return filtered
}

func matchesSearch(record *Record, loweredTerm string) bool {
	if record == nil {
		return false
	}
	if record.Type == TypeBroll {
		for _, keyword := range record.KeywordList() {
			if strings.Contains(strings.ToLower(keyword), loweredTerm) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(record.Project()), loweredTerm)
}
