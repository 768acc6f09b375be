package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/flexjson"
)

const (
	profileEndpoint = "/user/by/url"
	clipsEndpoint   = "/user/clips"

	// mediaTypeVideo marks short-video items in the provider's media_type field.
	mediaTypeVideo = 2

	DefaultClipsAmount = 30
)

// Fetcher is the transport API depends on. *Client satisfies it.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}

// API decodes provider responses into domain types.
type API struct {
	fetcher     Fetcher
	clipsAmount int
}

func NewAPI(fetcher Fetcher, clipsAmount int) *API {
	if clipsAmount <= 0 {
		clipsAmount = DefaultClipsAmount
	}
	return &API{fetcher: fetcher, clipsAmount: clipsAmount}
}

// LookupProfile resolves a canonical profile URL to a snapshot.
func (a *API) LookupProfile(ctx context.Context, profileURL string) (*domain.ProfileSnapshot, error) {
	body, err := a.fetcher.FetchWithRetry(ctx, profileEndpoint, url.Values{"url": {profileURL}})
	if err != nil {
		return nil, err
	}

	var raw rawProfile
	if err := json.Unmarshal(unwrapEnvelope(body, "user"), &raw); err != nil {
		return nil, &FetchError{Kind: KindInvalidProfileData, Endpoint: profileEndpoint, Err: err}
	}
	if raw.PK == "" {
		return nil, &FetchError{Kind: KindInvalidProfileData, Endpoint: profileEndpoint, Err: fmt.Errorf("missing pk")}
	}

	snapshot := &domain.ProfileSnapshot{
		ID:             string(raw.PK),
		Username:       raw.Username,
		DisplayName:    raw.FullName,
		CanonicalURL:   profileURL,
		FollowerCount:  int64(raw.FollowerCount),
		FollowingCount: int64(raw.FollowingCount),
		TotalPostCount: int64(raw.MediaCount),
	}
	if raw.Username != "" {
		snapshot.CanonicalURL = CanonicalProfileURL(raw.Username)
	}
	if snapshot.DisplayName == "" {
		snapshot.DisplayName = raw.Username
	}
	return snapshot, nil
}

// ListContent returns the most recent short-video items of a user, newest first.
func (a *API) ListContent(ctx context.Context, userID string) ([]domain.ContentItem, error) {
	query := url.Values{
		"user_id": {userID},
		"amount":  {strconv.Itoa(a.clipsAmount)},
	}
	body, err := a.fetcher.FetchWithRetry(ctx, clipsEndpoint, query)
	if err != nil {
		return nil, err
	}

	var raws []rawItem
	if err := json.Unmarshal(unwrapEnvelope(body, "items"), &raws); err != nil {
		return nil, &FetchError{Kind: KindInvalidContentData, Endpoint: clipsEndpoint, Err: err}
	}

	items := make([]domain.ContentItem, 0, len(raws))
	for i, raw := range raws {
		if raw.TakenAt.IsZero() {
			return nil, &FetchError{Kind: KindInvalidContentData, Endpoint: clipsEndpoint, Err: fmt.Errorf("item %d: missing taken_at", i)}
		}
		kind := domain.ContentOther
		if raw.MediaType == mediaTypeVideo {
			kind = domain.ContentReel
		}
		items = append(items, domain.ContentItem{
			Kind:         kind,
			PublishedAt:  raw.TakenAt.Time,
			ViewCount:    int64(raw.PlayCount),
			LikeCount:    int64(raw.LikeCount),
			CommentCount: int64(raw.CommentCount),
			ShareCount:   int64(raw.ShareCount),
			SaveCount:    int64(raw.SavesCount),
		})
	}
	return items, nil
}

type rawProfile struct {
	PK             flexjson.String `json:"pk"`
	Username       string          `json:"username"`
	FullName       string          `json:"full_name"`
	FollowerCount  flexjson.Count  `json:"follower_count"`
	FollowingCount flexjson.Count  `json:"following_count"`
	MediaCount     flexjson.Count  `json:"media_count"`
}

type rawItem struct {
	TakenAt      flexjson.Time  `json:"taken_at"`
	MediaType    int            `json:"media_type"`
	PlayCount    flexjson.Count `json:"play_count"`
	LikeCount    flexjson.Count `json:"like_count"`
	CommentCount flexjson.Count `json:"comment_count"`
	ShareCount   flexjson.Count `json:"share_count"`
	SavesCount   flexjson.Count `json:"saves_count"`
}

// unwrapEnvelope returns body[key] (or body.response[key]) when the payload
// is wrapped, and body otherwise.
func unwrapEnvelope(body []byte, key string) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return body
	}
	if inner, ok := envelope["response"]; ok {
		return unwrapEnvelope(inner, key)
	}
	if inner, ok := envelope[key]; ok {
		return inner
	}
	return body
}
