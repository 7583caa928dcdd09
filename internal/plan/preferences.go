package plan

import (
	"regexp"
	"strings"

	"github.com/iliamunaev/paper-order-pipeline/internal/model"
)

var sentenceRe = regexp.MustCompile(`[.;!?]+`)

var roleKeywords = map[Role][]string{
	Opening: {
		"introduction", "intro", "goal", "objective", "relevance", "problem statement",
		"research question", "hypothesis", "object of study", "subject of study",
	},
	Body: {
		"main part", "main body", "methodology", "method", "analysis", "literature review",
		"theory", "theoretical", "experiment", "data", "results", "case study", "practice",
	},
	Closing: {
		"conclusion", "summary", "findings", "takeaways", "recommendation", "outlook",
		"future work", "final remarks",
	},
}

// AttributePreferences splits free-form preferences into one instruction
// string per plan entry. A sentence naming a section title goes to that
// section; a sentence containing role vocabulary goes to every section of
// that role; anything else applies to all sections.
func AttributePreferences(entries []string, prefs string) []string {
	out := make([]string, len(entries))
	prefs = strings.TrimSpace(prefs)
	if prefs == "" || prefs == model.NoPreferences {
		return out
	}

	var global []string
	specific := make([][]string, len(entries))
	matched := false

	for _, raw := range sentenceRe.Split(prefs, -1) {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		matched = true
		low := strings.ToLower(s)

		if idx := titleMatches(entries, low); len(idx) > 0 {
			for _, i := range idx {
				specific[i] = append(specific[i], s)
			}
			continue
		}
		if role, ok := roleOf(low); ok {
			for i, e := range entries {
				if roleAt(entries, i, e) == role {
					specific[i] = append(specific[i], s)
				}
			}
			continue
		}
		global = append(global, s)
	}

	if !matched {
		for i := range out {
			out[i] = prefs
		}
		return out
	}
	for i := range entries {
		parts := append(append([]string(nil), global...), specific[i]...)
		if len(parts) > 0 {
			out[i] = strings.Join(parts, ". ") + "."
		}
	}
	return out
}

func titleMatches(entries []string, sentence string) []int {
	var idx []int
	for i, e := range entries {
		t := strings.ToLower(strings.TrimSpace(e))
		if len(t) >= 4 && strings.Contains(sentence, t) {
			idx = append(idx, i)
		}
	}
	return idx
}

// roleOf checks closing and opening vocabulary before body vocabulary so
// that "summary of the analysis" lands in the conclusion.
func roleOf(sentence string) (Role, bool) {
	for _, r := range []Role{Closing, Opening, Body} {
		for _, kw := range roleKeywords[r] {
			if strings.Contains(sentence, kw) {
				return r, true
			}
		}
	}
	return Body, false
}

// roleAt classifies by position as well as by title: the first and last
// entries of a coerced plan are the opening and closing.
func roleAt(entries []string, i int, title string) Role {
	switch {
	case i == 0 && len(entries) > 1:
		return Opening
	case i == len(entries)-1 && len(entries) > 1:
		return Closing
	}
	return Classify(title)
}
