package model

import "time"

// AgentFile is an uploaded Markdown agent file plus its public stats.
//
// RatingAverage and RatingCount are derived from the file's reviews and are
// only ever written by service.RatingService. Everything else in the
// codebase treats them as read-only.
//
// Content duplicates the blob at FilePath so detail pages and search never
// touch the filesystem.
type AgentFile struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	OriginalFilename string       `json:"originalFilename"`
	Description      string       `json:"description,omitempty"` // empty means absent
	Tags             []string     `json:"tags"`
	FilePath         string       `json:"filePath"`
	Content          string       `json:"content"`
	OwnerID          string       `json:"-"`
	Owner            *UserSummary `json:"owner,omitempty"`
	Views            int          `json:"views"`
	CopyCount        int          `json:"copyCount"`
	RatingAverage    float64      `json:"ratingAverage"`
	RatingCount      int          `json:"ratingCount"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Review is one user's rating of one agent file. The pair
// (AgentFileID, UserID) is unique.
type Review struct {
	ID          string       `json:"id"`
	AgentFileID string       `json:"agentFileId"`
	UserID      string       `json:"-"`
	User        *UserSummary `json:"user,omitempty"`
	Rating      int          `json:"rating"`
	Comment     string       `json:"comment,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// RatingStats is the aggregate returned after every review mutation.
type RatingStats struct {
	RatingAverage float64 `json:"ratingAverage"`
	RatingCount   int     `json:"ratingCount"`
}

// Video is a spotlighted YouTube video.
type Video struct {
	VideoID  string `json:"videoId"`
	EmbedURL string `json:"embedUrl"`
}

// FeaturedContent is the landing-page spotlight. Either half may be nil
// when there is nothing to feature.
type FeaturedContent struct {
	Agent       *AgentFile `json:"agent"`
	Video       *Video     `json:"video"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

// DashboardSummary aggregates a user's uploads.
type DashboardSummary struct {
	TotalFiles    int     `json:"totalFiles"`
	TotalViews    int     `json:"totalViews"`
	TotalCopies   int     `json:"totalCopies"`
	AverageRating float64 `json:"averageRating"`
}

// Metadata is what a metadata generator could work out about an uploaded
// file. Empty fields mean "nothing found".
type Metadata struct {
	Title       string
	Description string
	Tags        []string
}
