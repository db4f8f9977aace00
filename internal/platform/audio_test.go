package platform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *TrackSchema {
	return &TrackSchema{
		ID: 0, OwnerID: 1, URL: 2, Title: 3, Performer: 4,
		Duration: 5, Hashes: 6, TrackCode: 7, AccessKey: 8, CoverURL: -1,
	}
}

func testRow(t *testing.T, cells []any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(cells)
	require.NoError(t, err)
	return raw
}

func TestDecodeAudioRow(t *testing.T) {
	row := testRow(t, []any{
		456001, -12345, "https://cs.example/a.mp3", "Title", "Performer",
		213, "addh/edith/actionh/delh/replh/urlh/resth", "trackcode1", "key123",
	})

	audio, err := DecodeAudioRow(testSchema(), row)
	require.NoError(t, err)

	assert.Equal(t, int64(456001), audio.ID)
	assert.Equal(t, int64(-12345), audio.OwnerID)
	assert.Equal(t, "Title", audio.Title)
	assert.Equal(t, "Performer", audio.Performer)
	assert.Equal(t, 213, audio.Duration)
	assert.Equal(t, "trackcode1", audio.TrackCode)
	assert.Equal(t, "key123", audio.AccessKey)
	assert.Equal(t, "-12345_456001", audio.FullID())

	assert.Equal(t, "addh", audio.Hashes.Add)
	assert.Equal(t, "edith", audio.Hashes.Edit)
	assert.Equal(t, "actionh", audio.Hashes.Action)
	assert.Equal(t, "delh", audio.Hashes.Delete)
	assert.Equal(t, "replh", audio.Hashes.Replace)
	assert.Equal(t, "urlh", audio.Hashes.URL)
	assert.Equal(t, "resth", audio.Hashes.Restore)
	assert.True(t, audio.CanDelete())
}

func TestDecodeAudioRowPartialHashes(t *testing.T) {
	row := testRow(t, []any{
		456001, -12345, "", "Title", "Performer", 213, "addh//actionh", "tc", "",
	})

	audio, err := DecodeAudioRow(testSchema(), row)
	require.NoError(t, err)
	assert.Equal(t, "addh", audio.Hashes.Add)
	assert.Empty(t, audio.Hashes.Edit)
	assert.Equal(t, "actionh", audio.Hashes.Action)
	assert.Empty(t, audio.Hashes.Delete)
	assert.False(t, audio.CanDelete())
}

func TestDecodeAudioRowNumericStrings(t *testing.T) {
	row := testRow(t, []any{
		"456001", "-12345", "", "Title", "Performer", "213", "", "tc", "",
	})

	audio, err := DecodeAudioRow(testSchema(), row)
	require.NoError(t, err)
	assert.Equal(t, int64(456001), audio.ID)
	assert.Equal(t, 213, audio.Duration)
}

func TestDecodeAudioRowShortRow(t *testing.T) {
	row := testRow(t, []any{456001, -12345, "short"})

	_, err := DecodeAudioRow(testSchema(), row)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestDecodeAudioRowBadCellType(t *testing.T) {
	row := testRow(t, []any{
		[]any{"nested"}, -12345, "", "Title", "Performer", 213, "", "tc", "",
	})

	_, err := DecodeAudioRow(testSchema(), row)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "id", schemaErr.Field)
}

func TestDecodePlaylist(t *testing.T) {
	payload := map[string]any{
		"id":         324312,
		"ownerId":    -2000324312,
		"accessHash": "abcdef123456abcdef",
		"title":      "<b>Summer</b> Hits",
		"authorName": "Label",
		"listens":    "125360",
		"totalCount": 2,
		"list": []any{
			[]any{1, -2000324312, "", "One", "P", 100, "a/b/c", "tc1", ""},
			[]any{2, -2000324312, "", "Two", "P", 200, "d/e/f", "tc2", ""},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	playlist, err := decodePlaylist(testSchema(), raw)
	require.NoError(t, err)

	assert.Equal(t, int64(324312), playlist.ID)
	assert.Equal(t, int64(-2000324312), playlist.OwnerID)
	assert.Equal(t, "Summer Hits", playlist.Title)
	assert.Equal(t, int64(125360), playlist.Listens)
	require.Len(t, playlist.Audios, 2)
	assert.Equal(t, "Two", playlist.Audios[1].Title)
}

func TestParseCounter(t *testing.T) {
	assert.Equal(t, int64(125360), parseCounter(json.RawMessage(`125360`)))
	assert.Equal(t, int64(125360), parseCounter(json.RawMessage(`"125360"`)))
	assert.Equal(t, int64(125360), parseCounter(json.RawMessage(`"125 360"`)))
	assert.Equal(t, int64(0), parseCounter(json.RawMessage(`"n/a"`)))
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Plain", stripMarkup("Plain"))
	assert.Equal(t, "Bold title", stripMarkup("<b>Bold</b> title"))
	assert.Equal(t, "nested", stripMarkup("<a href='x'><i>nested</i></a>"))
}
