package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	http "github.com/bogdanfinn/fhttp"

	"listen_engine/internal/model"
	"listen_engine/internal/transport"
)

// ListenContext is where the player claims the track was playing from.
type ListenContext string

const (
	ContextMy        ListenContext = "my"
	ContextUserList  ListenContext = "user_list"
	ContextGroupList ListenContext = "group_list"
	ContextAlbumPage ListenContext = "album_page"
)

// StopReason is why the player claims playback ended.
type StopReason string

const (
	StopNew           StopReason = "new"
	StopPrevious      StopReason = "prev"
	StopButton        StopReason = "stop_btn"
	StopNextButton    StopReason = "next_btn"
	StopPlaylistNext  StopReason = "playlist_next"
	StopPlaylistShift StopReason = "playlist_change"
)

// ListenOptions shapes the playback event metadata. The zero value reports
// the minimal non-human profile: 35 seconds listened from the background.
type ListenOptions struct {
	ListenedSec int
	State       string
	Context     ListenContext
	Prev        string
	StopReason  StopReason
}

type mobileEnvelope struct {
	Data     json.RawMessage   `json:"data"`
	Location string            `json:"location"`
	Payload  []json.RawMessage `json:"payload"`
}

// FetchPlaylist loads a playlist snapshot including its full track list and
// the aggregate listen counter.
func (c *Client) FetchPlaylist(ctx context.Context, session *transport.Session, meta model.PlaylistMeta) (*model.Playlist, error) {
	schema, err := c.Schema(ctx, session)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("act", "load_section")
	values.Set("type", "playlist")
	values.Set("playlist_id", strconv.FormatInt(meta.ID, 10))
	values.Set("owner_id", strconv.FormatInt(meta.OwnerID, 10))
	values.Set("is_loading_all", "1")
	if meta.AccessHash != "" {
		values.Set("access_hash", meta.AccessHash)
	}

	envelope, err := c.audioCall(ctx, session, values)
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(envelope.Data, &rows); err != nil || len(rows) == 0 {
		if envelope.Location != "" {
			return nil, &RemoteError{Kind: KindAuthFailed, Code: 3, Message: "playlist fetch redirected to login"}
		}
		return nil, &RemoteError{Kind: KindFailed, Code: 8, Message: "playlist content missing; check owner and playlist ids"}
	}

	return decodePlaylist(schema, rows[0])
}

// StartPlayback registers the playback intent the real player sends before
// any listen event. The device uuid stays stable per account session.
func (c *Client) StartPlayback(ctx context.Context, session *transport.Session, audio model.Audio, deviceID string) error {
	values := url.Values{}
	values.Set("act", "start_playback")
	values.Set("audio_id", strconv.FormatInt(audio.ID, 10))
	values.Set("owner_id", strconv.FormatInt(audio.OwnerID, 10))
	values.Set("hash", audio.Hashes.Action)
	values.Set("uuid", deviceID)

	_, err := c.audioCall(ctx, session, values)
	return err
}

// Listen submits one playback event against a playlist.
func (c *Client) Listen(ctx context.Context, session *transport.Session, audio model.Audio, playlistID string, opts ListenOptions) error {
	if opts.ListenedSec <= 0 {
		opts.ListenedSec = 35
	}
	if opts.State == "" {
		opts.State = "app"
	}
	if opts.StopReason == "" {
		opts.StopReason = StopButton
	}

	values := url.Values{}
	values.Set("_ajax", "1")
	values.Set("act", "playback")
	values.Set("audio", audio.FullID())
	values.Set("track_code", audio.TrackCode)
	values.Set("hash", audio.Hashes.URL)
	values.Set("playlist_id", playlistID)
	values.Set("listened", strconv.Itoa(opts.ListenedSec))
	values.Set("state", opts.State)
	values.Set("end_stream_reason", string(opts.StopReason))
	if opts.Context != "" {
		values.Set("context", string(opts.Context))
	}
	if opts.Prev != "" {
		values.Set("prev", opts.Prev)
	}

	_, err := c.audioCall(ctx, session, values)
	return err
}

// AddedAudio is the library copy created by AddAudio.
type AddedAudio struct {
	FullID     string
	DeleteHash string
}

// AddAudio copies the track into the session's own library. Tracks already
// owned are skipped without a request.
func (c *Client) AddAudio(ctx context.Context, session *transport.Session, audio model.Audio, playlist model.PlaylistMeta) (*AddedAudio, error) {
	if audio.CanDelete() {
		return nil, nil
	}

	values := url.Values{}
	values.Set("_ajax", "1")
	values.Set("act", "add")
	values.Set("audio", audio.FullID())
	values.Set("hash", audio.Hashes.Add)
	values.Set("access_key", audio.AccessKey)
	values.Set("track_code", audio.TrackCode)
	values.Set("source_playlist_id", playlist.FullID())

	envelope, err := c.audioCall(ctx, session, values)
	if err != nil {
		return nil, err
	}

	var data []string
	if err := json.Unmarshal(envelope.Data, &data); err != nil || len(data) < 2 {
		return nil, nil
	}
	return &AddedAudio{FullID: data[0], DeleteHash: data[1]}, nil
}

func (c *Client) audioCall(ctx context.Context, session *transport.Session, values url.Values) (*mobileEnvelope, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Origin", c.endpoints.MobileBaseURL+"/")
	header.Set("Referer", c.endpoints.AudioURL())
	header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := session.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoints.AudioURL(),
		Header: header,
		Body:   []byte(values.Encode()),
	})
	if err != nil {
		return nil, err
	}

	var envelope mobileEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decode audio response: %w", err)
	}

	if len(envelope.Payload) > 0 {
		if remoteErr := classifyPayload(envelope.Payload); remoteErr != nil {
			return nil, remoteErr
		}
	}
	return &envelope, nil
}

func classifyPayload(payload []json.RawMessage) *RemoteError {
	var code int
	if err := json.Unmarshal(payload[0], &code); err != nil {
		var codeText string
		if err := json.Unmarshal(payload[0], &codeText); err != nil {
			return nil
		}
		parsed, err := strconv.Atoi(codeText)
		if err != nil {
			return nil
		}
		code = parsed
	}

	kind, ok := ClassifyRemoteCode(code)
	if !ok {
		return nil
	}
	return &RemoteError{Kind: kind, Code: code, Message: "payload rejected"}
}

type playlistPayload struct {
	ID          int64             `json:"id"`
	OwnerID     int64             `json:"ownerId"`
	AccessHash  string            `json:"accessHash"`
	Title       string            `json:"title"`
	AuthorName  string            `json:"authorName"`
	Listens     json.RawMessage   `json:"listens"`
	TotalCount  int               `json:"totalCount"`
	LastUpdated int64             `json:"lastUpdated"`
	List        []json.RawMessage `json:"list"`
}

func decodePlaylist(schema *TrackSchema, raw json.RawMessage) (*model.Playlist, error) {
	var payload playlistPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode playlist payload: %w", err)
	}

	playlist := &model.Playlist{
		PlaylistMeta: model.PlaylistMeta{
			ID:         payload.ID,
			OwnerID:    payload.OwnerID,
			AccessHash: payload.AccessHash,
		},
		Title:       stripMarkup(payload.Title),
		AuthorName:  stripMarkup(payload.AuthorName),
		Listens:     parseCounter(payload.Listens),
		TotalCount:  payload.TotalCount,
		LastUpdated: payload.LastUpdated,
		Audios:      make([]model.Audio, 0, len(payload.List)),
	}

	for _, row := range payload.List {
		audio, err := DecodeAudioRow(schema, row)
		if err != nil {
			return nil, err
		}
		playlist.Audios = append(playlist.Audios, audio)
	}
	return playlist, nil
}

// DecodeAudioRow turns one positional track array into a typed Audio using
// the live schema.
func DecodeAudioRow(schema *TrackSchema, raw json.RawMessage) (model.Audio, error) {
	var row []any
	if err := json.Unmarshal(raw, &row); err != nil {
		return model.Audio{}, fmt.Errorf("decode track row: %w", err)
	}
	if len(row) < schema.MinRowLen() {
		return model.Audio{}, &SchemaError{Reason: fmt.Sprintf("track row has %d cells, schema needs %d", len(row), schema.MinRowLen())}
	}

	id, err := cellInt64(row, schema.ID, "id")
	if err != nil {
		return model.Audio{}, err
	}
	ownerID, err := cellInt64(row, schema.OwnerID, "ownerId")
	if err != nil {
		return model.Audio{}, err
	}
	duration, err := cellInt64(row, schema.Duration, "duration")
	if err != nil {
		return model.Audio{}, err
	}

	audio := model.Audio{
		ID:        id,
		OwnerID:   ownerID,
		Duration:  int(duration),
		Title:     cellString(row, schema.Title),
		Performer: cellString(row, schema.Performer),
		TrackCode: cellString(row, schema.TrackCode),
		AccessKey: cellString(row, schema.AccessKey),
		Hashes:    splitHashes(cellString(row, schema.Hashes)),
	}
	return audio, nil
}

// splitHashes unpacks the slash-joined hash pack in its fixed order.
func splitHashes(joined string) model.AudioHashes {
	parts := strings.Split(joined, "/")
	get := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	return model.AudioHashes{
		Add:     get(0),
		Edit:    get(1),
		Action:  get(2),
		Delete:  get(3),
		Replace: get(4),
		URL:     get(5),
		Restore: get(6),
	}
}

func cellInt64(row []any, idx int, field string) (int64, error) {
	if idx < 0 || idx >= len(row) {
		return 0, &SchemaError{Field: field, Reason: "index out of row bounds"}
	}
	switch v := row[idx].(type) {
	case float64:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, &SchemaError{Field: field, Reason: "cell is not numeric"}
		}
		return parsed, nil
	}
	return 0, &SchemaError{Field: field, Reason: "cell has unexpected type"}
}

// parseCounter reads a listen counter that arrives either as a bare number
// or as a quoted digit string, sometimes with thousands separators.
func parseCounter(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	s = strings.ReplaceAll(s, " ", "")
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func cellString(row []any, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	if s, ok := row[idx].(string); ok {
		return s
	}
	return ""
}

func stripMarkup(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
