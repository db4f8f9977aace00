package platform

import (
	"fmt"
	"regexp"
	"strconv"

	"listen_engine/internal/model"
)

// Playlist links come in several shapes: a direct /music/playlist/-12_34
// path, a legacy audio_playlist-12_34 fragment, and either of those with an
// access hash appended after an encoded slash or an access_hash query param.
var playlistURLPattern = regexp.MustCompile(`(?i)(?:audio_playlist|/)(-?\d+)_(\d+)(?:(?:%2F|.|.+access_hash=)([a-z0-9]{18}))?`)

// ParsePlaylistURL extracts the playlist identity from a shared link.
func ParsePlaylistURL(raw string) (model.PlaylistMeta, error) {
	match := playlistURLPattern.FindStringSubmatch(raw)
	if match == nil {
		return model.PlaylistMeta{}, fmt.Errorf("no playlist reference in %q", raw)
	}

	ownerID, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return model.PlaylistMeta{}, fmt.Errorf("malformed playlist owner id in %q", raw)
	}
	id, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return model.PlaylistMeta{}, fmt.Errorf("malformed playlist id in %q", raw)
	}

	return model.PlaylistMeta{
		ID:         id,
		OwnerID:    ownerID,
		AccessHash: match[3],
	}, nil
}
