package entity

import "time"

const (
	// BlacklistCategoryPhishing is the category given to entries imported from a phishing feed.
	BlacklistCategoryPhishing = "phishing"
)

// BlacklistEntry is a locally cached phishing or malware URL.
type BlacklistEntry struct {
	ID        int64
	URL       string
	Category  string
	Reason    string
	Source    string
	DateAdded time.Time
	Active    bool
}
