package model

import "strings"

// WorkType describes one orderable kind of document.
type WorkType struct {
	Name      string
	Price     int64
	PageLimit int
	// Sources is the number of references requested from the source lookup.
	Sources int
}

// WorkTypes is the fixed menu, in display order.
var WorkTypes = []WorkType{
	{Name: "Essay", Price: 300, PageLimit: 10, Sources: 12},
	{Name: "Report", Price: 300, PageLimit: 10, Sources: 12},
	{Name: "Abstract", Price: 400, PageLimit: 20, Sources: 12},
	{Name: "Project", Price: 400, PageLimit: 20, Sources: 12},
	{Name: "Coursework", Price: 500, PageLimit: 30, Sources: 20},
	{Name: "Thesis", Price: 800, PageLimit: 70, Sources: 20},
}

// LookupWorkType finds a work type by name, case-insensitively.
// A menu label such as "Essay - 300" is accepted as well.
func LookupWorkType(s string) (WorkType, bool) {
	name, _, _ := strings.Cut(s, " - ")
	name = strings.TrimSpace(name)
	for _, wt := range WorkTypes {
		if strings.EqualFold(wt.Name, name) {
			return wt, true
		}
	}
	return WorkType{}, false
}

// PageLimit returns the maximum page count for the named work type.
// Unknown types get the smallest limit.
func PageLimit(workType string) int {
	if wt, ok := LookupWorkType(workType); ok {
		return wt.PageLimit
	}
	return 10
}
