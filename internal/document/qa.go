package document

import (
	"regexp"
	"strings"
)

var (
	questionMarker = regexp.MustCompile(`(?m)^\s*Q\d+:`)
	answerMarker   = regexp.MustCompile(`\bAns:`)
	analysisMarker = regexp.MustCompile(`\bANALYSIS:`)
)

// ExtractQAUnits scans text for the Q<n>: / Ans: / ANALYSIS: convention
// and returns the triples in document order. The question section is
// required; answer and analysis are optional, and a present-but-empty
// answer is kept as an empty string rather than dropping the unit.
func ExtractQAUnits(text string) []QAUnit {
	starts := questionMarker.FindAllStringIndex(text, -1)
	if len(starts) == 0 {
		return nil
	}

	var units []QAUnit
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		segment := text[loc[1]:end]

		question := segment
		var answer, analysis string

		if m := answerMarker.FindStringIndex(question); m != nil {
			answer = question[m[1]:]
			question = question[:m[0]]
			if n := analysisMarker.FindStringIndex(answer); n != nil {
				analysis = answer[n[1]:]
				answer = answer[:n[0]]
			}
		} else if m := analysisMarker.FindStringIndex(question); m != nil {
			analysis = question[m[1]:]
			question = question[:m[0]]
		}

		question = strings.TrimSpace(question)
		if question == "" {
			continue
		}

		units = append(units, QAUnit{
			Question: question,
			Answer:   strings.TrimSpace(answer),
			Analysis: strings.TrimSpace(analysis),
		})
	}

	return units
}
