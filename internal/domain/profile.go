package domain

import "time"

// ContentKind distinguishes short-video items from everything else.
type ContentKind string

const (
	ContentReel  ContentKind = "reel"
	ContentOther ContentKind = "other"
)

// ContentItem is one published piece of content. Missing counters are zero.
type ContentItem struct {
	Kind         ContentKind
	PublishedAt  time.Time
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	ShareCount   int64
	SaveCount    int64
}

// Engagement is likes + comments + shares + saves.
func (c ContentItem) Engagement() int64 {
	return c.LikeCount + c.CommentCount + c.ShareCount + c.SaveCount
}

func (c ContentItem) IsReel() bool {
	return c.Kind == ContentReel
}

// ProfileSnapshot is a profile as returned by the data provider.
type ProfileSnapshot struct {
	ID             string
	Username       string
	DisplayName    string
	CanonicalURL   string
	FollowerCount  int64
	FollowingCount int64
	TotalPostCount int64
}

// PredictionResult is derived per request and never cached.
type PredictionResult struct {
	PostsInWindow          int
	ReelsInWindow          int
	AccountEngagementRate  float64
	MedianReelViews        int64
	ReelEngagementRate     float64
	ReelViewEngagementRate float64

	VolumeCoefficient   float64
	ReachCoefficient    float64
	ViralityCoefficient float64

	PredictedReach              float64
	PredictedEngagementRate     float64
	PredictedViewEngagementRate float64

	// ZeroFollowers marks follower-normalized rates as undefined; they are reported as 0.
	ZeroFollowers bool
}

// Coefficient is the product of the three prediction coefficients.
func (p PredictionResult) Coefficient() float64 {
	return p.VolumeCoefficient * p.ReachCoefficient * p.ViralityCoefficient
}
