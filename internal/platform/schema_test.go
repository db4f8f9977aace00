package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBundle = `!function(){var e={AUDIO_ITEM_INDEX_ID:0,AUDIO_ITEM_INDEX_OWNER_ID:1,AUDIO_ITEM_INDEX_URL:2,AUDIO_ITEM_INDEX_TITLE:3,AUDIO_ITEM_INDEX_PERFORMER:4,AUDIO_ITEM_INDEX_DURATION:5,AUDIO_ITEM_INDEX_HASHES:13,AUDIO_ITEM_INDEX_COVER_URL:14,AUDIO_ITEM_INDEX_TRACK_CODE:20,AUDIO_ITEM_ACCESS_KEY:24};window.audioIndex=e}();`

func TestParseTrackSchema(t *testing.T) {
	schema, err := ParseTrackSchema([]byte(sampleBundle))
	require.NoError(t, err)

	assert.Equal(t, 0, schema.ID)
	assert.Equal(t, 1, schema.OwnerID)
	assert.Equal(t, 3, schema.Title)
	assert.Equal(t, 5, schema.Duration)
	assert.Equal(t, 13, schema.Hashes)
	assert.Equal(t, 20, schema.TrackCode)
	assert.Equal(t, 24, schema.AccessKey)
	assert.Equal(t, 25, schema.MinRowLen())
}

func TestParseTrackSchemaMissingEnum(t *testing.T) {
	_, err := ParseTrackSchema([]byte(`var nothing = {OTHER_INDEX: 1};`))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestParseTrackSchemaMissingRequiredField(t *testing.T) {
	// No duration index in the enum.
	bundle := `{AUDIO_ITEM_INDEX_ID:0,AUDIO_ITEM_INDEX_OWNER_ID:1,AUDIO_ITEM_INDEX_TITLE:3,AUDIO_ITEM_INDEX_PERFORMER:4,AUDIO_ITEM_INDEX_HASHES:13,AUDIO_ITEM_INDEX_TRACK_CODE:20}`
	_, err := ParseTrackSchema([]byte(bundle))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "AUDIO_ITEM_INDEX_DURATION", schemaErr.Field)
}

func TestParseTrackSchemaOptionalFieldsDefaultToMinusOne(t *testing.T) {
	bundle := `{AUDIO_ITEM_INDEX_ID:0,AUDIO_ITEM_INDEX_OWNER_ID:1,AUDIO_ITEM_INDEX_TITLE:3,AUDIO_ITEM_INDEX_PERFORMER:4,AUDIO_ITEM_INDEX_DURATION:5,AUDIO_ITEM_INDEX_HASHES:13,AUDIO_ITEM_INDEX_TRACK_CODE:20}`
	schema, err := ParseTrackSchema([]byte(bundle))
	require.NoError(t, err)
	assert.Equal(t, -1, schema.URL)
	assert.Equal(t, -1, schema.AccessKey)
	assert.Equal(t, -1, schema.CoverURL)
}
