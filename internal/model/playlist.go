package model

import "fmt"

// AudioHashes are the per-track action tokens the platform expects to be
// echoed back with every mutation or playback event.
type AudioHashes struct {
	Add     string `json:"add,omitempty"`
	Edit    string `json:"edit,omitempty"`
	Action  string `json:"action,omitempty"`
	Delete  string `json:"delete,omitempty"`
	Replace string `json:"replace,omitempty"`
	URL     string `json:"url,omitempty"`
	Restore string `json:"restore,omitempty"`
}

type Audio struct {
	ID        int64       `json:"id"`
	OwnerID   int64       `json:"ownerId"`
	Title     string      `json:"title"`
	Performer string      `json:"performer,omitempty"`
	Duration  int         `json:"duration"`
	AccessKey string      `json:"accessKey,omitempty"`
	TrackCode string      `json:"trackCode,omitempty"`
	Hashes    AudioHashes `json:"hashes"`
}

// FullID is the owner-qualified track reference used on the wire.
func (a Audio) FullID() string {
	return fmt.Sprintf("%d_%d", a.OwnerID, a.ID)
}

// CanDelete means the track is already in some library the session owns;
// adding it again would be rejected.
func (a Audio) CanDelete() bool {
	return a.Hashes.Delete != ""
}

// PlaylistMeta identifies a playlist without its content.
type PlaylistMeta struct {
	ID         int64  `json:"id"`
	OwnerID    int64  `json:"ownerId"`
	AccessHash string `json:"accessHash,omitempty"`
}

// FullID is the owner-qualified playlist reference, with the access hash
// appended when the playlist is access-restricted.
func (m PlaylistMeta) FullID() string {
	id := fmt.Sprintf("%d_%d", m.OwnerID, m.ID)
	if m.AccessHash != "" {
		id += "_" + m.AccessHash
	}
	return id
}

// Playlist is a remote snapshot of a playlist: its track list plus the
// aggregate listen counter the task progress is measured by. Listens is only
// ever overwritten from a fetched snapshot, never computed locally.
type Playlist struct {
	PlaylistMeta
	Title       string  `json:"title"`
	AuthorName  string  `json:"authorName,omitempty"`
	Listens     int64   `json:"listens"`
	TotalCount  int     `json:"totalCount"`
	LastUpdated int64   `json:"lastUpdated,omitempty"`
	Audios      []Audio `json:"audios"`
}
