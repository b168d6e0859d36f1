package respond

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

// knownLocations is the fixed vocabulary for keyword location matching.
var knownLocations = []string{
	"marina bay", "orchard", "sentosa", "downtown", "bukit timah", "clementi",
	"tampines", "punggol", "woodlands", "jurong east",
}

// DetectIntent extracts listing search filters from a message with plain
// keyword matching. An empty query means the message is not a property ask.
func DetectIntent(text string) store.ListingQuery {
	normalized := strings.ToLower(text)
	var q store.ListingQuery

	for _, loc := range knownLocations {
		if strings.Contains(normalized, loc) {
			q.Location = loc
			break
		}
	}

	switch {
	case strings.Contains(normalized, "condo"):
		q.PropertyType = "condo"
	case strings.Contains(normalized, "hdb"):
		q.PropertyType = "HDB"
	case strings.Contains(normalized, "landed"):
		q.PropertyType = "landed"
	}

	for i := 1; i <= 5; i++ {
		if strings.Contains(normalized, fmt.Sprintf("%d-bedroom", i)) ||
			strings.Contains(normalized, fmt.Sprintf("%d bedroom", i)) ||
			strings.Contains(normalized, fmt.Sprintf("%d bed", i)) ||
			strings.Contains(normalized, fmt.Sprintf("%dbr", i)) {
			q.Bedrooms = i
			break
		}
	}

	return q
}

// Empty reports whether no filter was detected.
func Empty(q store.ListingQuery) bool {
	return q.Location == "" && q.PropertyType == "" && q.Bedrooms == 0
}
