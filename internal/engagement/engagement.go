// Package engagement turns a profile and its recent content into engagement
// rates and reach predictions. Everything here is pure: no I/O, no clock reads.
package engagement

import (
	"sort"
	"time"

	"github.com/DukeRupert/reelstat/internal/domain"
)

// Window is the trailing period that counts as "recent" content.
const Window = 30 * 24 * time.Hour

const (
	volumeReelThreshold = 10
	volumeHigh          = 1.2
	volumeLow           = 0.8

	reachSampleSize  = 5
	reachFollowerMul = 2
	reachHigh        = 1.2

	viralitySampleSize = 3
	viralityMedianMul  = 10
	viralityHigh       = 1.4
)

// Predict computes engagement metrics for items published within Window
// before now. Items must be ordered newest first; they are not re-sorted.
//
// A profile with zero followers has no defined follower-normalized rate. Those
// rates are reported as 0 and ZeroFollowers is set.
func Predict(profile domain.ProfileSnapshot, items []domain.ContentItem, now time.Time) domain.PredictionResult {
	cutoff := now.Add(-Window)

	var (
		window []domain.ContentItem
		reels  []domain.ContentItem
	)
	for _, item := range items {
		if item.PublishedAt.Before(cutoff) {
			continue
		}
		window = append(window, item)
		if item.IsReel() {
			reels = append(reels, item)
		}
	}

	res := domain.PredictionResult{
		PostsInWindow: len(window),
		ReelsInWindow: len(reels),
		ZeroFollowers: profile.FollowerCount == 0,
	}

	followers := float64(profile.FollowerCount)
	res.AccountEngagementRate = percentOf(meanEngagement(window), followers)

	reelEngagement := meanEngagement(reels)
	reelViews := meanViews(reels)
	res.ReelEngagementRate = percentOf(reelEngagement, followers)
	res.ReelViewEngagementRate = percentOf(reelEngagement, reelViews)
	res.MedianReelViews = LowerMedian(viewCounts(reels))

	recent := recentReels(items, reachSampleSize)

	res.VolumeCoefficient = volumeLow
	if len(reels) >= volumeReelThreshold {
		res.VolumeCoefficient = volumeHigh
	}

	res.ReachCoefficient = 1.0
	if LowerMedian(viewCounts(recent)) > reachFollowerMul*profile.FollowerCount {
		res.ReachCoefficient = reachHigh
	}

	res.ViralityCoefficient = 1.0
	for i, item := range recent {
		if i >= viralitySampleSize {
			break
		}
		if item.ViewCount > viralityMedianMul*res.MedianReelViews {
			res.ViralityCoefficient = viralityHigh
			break
		}
	}

	k := res.Coefficient()
	res.PredictedReach = float64(res.MedianReelViews) * k
	res.PredictedEngagementRate = res.ReelEngagementRate * k
	res.PredictedViewEngagementRate = res.ReelViewEngagementRate * k

	return res
}

// LowerMedian returns the element at index floor(n/2) of the ascending sort
// of values, so [10,20] yields 20 and the central pair is never averaged.
// This is the documented definition used in reports, not a statistical
// median. An empty slice yields 0. values is not modified.
func LowerMedian(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// recentReels returns up to n reels from the head of items, ignoring the window.
func recentReels(items []domain.ContentItem, n int) []domain.ContentItem {
	out := make([]domain.ContentItem, 0, n)
	for _, item := range items {
		if len(out) == n {
			break
		}
		if item.IsReel() {
			out = append(out, item)
		}
	}
	return out
}

func meanEngagement(items []domain.ContentItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var total int64
	for _, item := range items {
		total += item.Engagement()
	}
	return float64(total) / float64(len(items))
}

func meanViews(items []domain.ContentItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var total int64
	for _, item := range items {
		total += item.ViewCount
	}
	return float64(total) / float64(len(items))
}

func viewCounts(items []domain.ContentItem) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ViewCount
	}
	return out
}

// percentOf returns part/whole*100, or 0 when whole is 0.
func percentOf(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}
