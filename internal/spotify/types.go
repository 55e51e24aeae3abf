package spotify

// PlaylistSummary is the normalized playlist shape returned for both search
// results and the user's own playlists. Every field is always present;
// missing values are empty strings or zero.
type PlaylistSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Owner       string `json:"owner"` // display name, or owner ID when unset
	TrackCount  int    `json:"trackCount"`
	ImageURL    string `json:"imageUrl"`
	ExternalURL string `json:"externalUrl"`
}
