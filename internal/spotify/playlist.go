package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

const (
	searchLimit   = 20
	maxPageLimit  = 50
	externalURLID = "spotify"
)

// SearchPlaylists searches for playlists matching query.
// Returns an empty slice (not nil) when nothing matches.
func (c *Client) SearchPlaylists(ctx context.Context, query string) ([]PlaylistSummary, error) {
	result, err := c.api.Search(ctx, query, spotify.SearchTypePlaylist, spotify.Limit(searchLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: searching playlists: %w", ErrProviderRejected, err)
	}

	summaries := []PlaylistSummary{}
	if result.Playlists == nil {
		return summaries, nil
	}
	return appendSummaries(summaries, result.Playlists.Playlists), nil
}

// UserPlaylists retrieves all of the current user's playlists, walking every page.
func (c *Client) UserPlaylists(ctx context.Context) ([]PlaylistSummary, error) {
	page, err := c.api.CurrentUsersPlaylists(ctx, spotify.Limit(maxPageLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: fetching user playlists: %w", ErrProviderRejected, err)
	}

	summaries := []PlaylistSummary{}
	for {
		summaries = appendSummaries(summaries, page.Playlists)

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: fetching next playlist page: %w", ErrProviderRejected, err)
		}
	}

	return summaries, nil
}

// appendSummaries converts playlists and appends them to dst.
// Search results can contain null entries, which decode without an ID and are skipped.
func appendSummaries(dst []PlaylistSummary, playlists []spotify.SimplePlaylist) []PlaylistSummary {
	for _, p := range playlists {
		if p.ID == "" {
			continue
		}
		dst = append(dst, convertPlaylist(p))
	}
	return dst
}

// convertPlaylist converts a Spotify SimplePlaylist to a PlaylistSummary.
func convertPlaylist(p spotify.SimplePlaylist) PlaylistSummary {
	owner := p.Owner.DisplayName
	if owner == "" {
		owner = p.Owner.ID
	}

	var imageURL string
	if len(p.Images) > 0 {
		imageURL = p.Images[0].URL
	}

	return PlaylistSummary{
		ID:          p.ID.String(),
		Name:        p.Name,
		Owner:       owner,
		TrackCount:  int(p.Tracks.Total),
		ImageURL:    imageURL,
		ExternalURL: p.ExternalURLs[externalURLID],
	}
}
