package content

import (
	"time"
)

// Keyword is a tracked search term. Keywords are created and edited by
// the keyword-management collaborator; this service only reads them.
type Keyword struct {
	ID      string
	OwnerID string
	Text    string
	Active  bool
}

// Post is a canonical ingested post, deduplicated by (keyword, external ID)
type Post struct {
	ID                string
	KeywordID         string
	ExternalID        string
	Platform          string
	Title             string
	Body              string
	Author            string
	Subreddit         string
	URL               string
	Score             int
	CommentCount      int
	ExternalCreatedAt time.Time
	IngestedAt        time.Time
}

// Comment is a canonical ingested comment, deduplicated by (post, external ID)
type Comment struct {
	ID                string
	PostID            string
	ExternalID        string
	Body              string
	Author            string
	Score             int
	ExternalCreatedAt time.Time
}

// RawPost is one record as returned by an external content source,
// before normalization
type RawPost struct {
	ExternalID   string
	Title        string
	Body         string
	Author       string
	Subreddit    string
	URL          string
	Score        int
	CommentCount int
	CreatedAt    time.Time
}

// RawComment is one comment record as returned by an external source
type RawComment struct {
	ExternalID       string
	ParentExternalID string
	Body             string
	Author           string
	Score            int
	CreatedAt        time.Time
}

// Page is one page of raw records plus the cursor for the next page.
// An empty NextCursor means the source has no more pages.
type Page struct {
	Posts      []RawPost
	NextCursor string
}
