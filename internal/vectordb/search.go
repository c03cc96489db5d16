package vectordb

import (
	"fmt"
	"strings"
)

// FormatResults renders search results as human-readable text.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No matching entities."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d entit(y/ies):\n", len(results)))
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("- %s", r.Document.ID))
		if r.Document.Metadata.Name != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", r.Document.Metadata.Name))
		}
		if r.Document.Metadata.AreaID != "" {
			sb.WriteString(fmt.Sprintf(" in %s", r.Document.Metadata.AreaID))
		}
		sb.WriteString(fmt.Sprintf(" similarity %.3f\n", r.Similarity))
	}
	return sb.String()
}
