package platform

import (
	"context"
	"regexp"
	"strconv"

	"listen_engine/internal/transport"
)

// Track rows arrive as positional arrays whose layout is defined by an index
// enum inside the platform's common script bundle. The layout shifts between
// frontend releases, so the schema is fetched live once per process instead
// of being hardcoded.

var (
	bundlePathPattern = regexp.MustCompile(`(?i)(dist/common\.[0-9a-z]+\.js)`)
	indexEnumPattern  = regexp.MustCompile(`\{AUDIO_ITEM_INDEX[^}]+\}`)
	indexEntryPattern = regexp.MustCompile(`([A-Z_]+)\s*:\s*(\d+)`)
)

// TrackSchema holds the positional indices the decoder needs. Indices are -1
// when the bundle did not define them.
type TrackSchema struct {
	ID        int
	OwnerID   int
	URL       int
	Title     int
	Performer int
	Duration  int
	Hashes    int
	TrackCode int
	AccessKey int
	CoverURL  int
}

// MinRowLen is the shortest row the schema can decode.
func (s *TrackSchema) MinRowLen() int {
	max := 0
	for _, idx := range []int{
		s.ID, s.OwnerID, s.URL, s.Title, s.Performer,
		s.Duration, s.Hashes, s.TrackCode, s.AccessKey,
	} {
		if idx > max {
			max = idx
		}
	}
	return max + 1
}

func (s *TrackSchema) validate() error {
	required := map[string]int{
		"AUDIO_ITEM_INDEX_ID":         s.ID,
		"AUDIO_ITEM_INDEX_OWNER_ID":   s.OwnerID,
		"AUDIO_ITEM_INDEX_TITLE":      s.Title,
		"AUDIO_ITEM_INDEX_PERFORMER":  s.Performer,
		"AUDIO_ITEM_INDEX_DURATION":   s.Duration,
		"AUDIO_ITEM_INDEX_HASHES":     s.Hashes,
		"AUDIO_ITEM_INDEX_TRACK_CODE": s.TrackCode,
	}
	for field, idx := range required {
		if idx < 0 {
			return &SchemaError{Field: field, Reason: "missing from bundle enum"}
		}
	}
	return nil
}

// Schema returns the cached track schema, fetching it through the given
// session on first use.
func (c *Client) Schema(ctx context.Context, session *transport.Session) (*TrackSchema, error) {
	c.schemaMu.Lock()
	defer c.schemaMu.Unlock()
	if c.schema != nil {
		return c.schema, nil
	}

	schema, err := c.fetchSchema(ctx, session)
	if err != nil {
		return nil, err
	}
	c.schema = schema
	return schema, nil
}

// SetSchema seeds the cache directly. Tests and the mock server use it.
func (c *Client) SetSchema(schema *TrackSchema) {
	c.schemaMu.Lock()
	c.schema = schema
	c.schemaMu.Unlock()
}

func (c *Client) fetchSchema(ctx context.Context, session *transport.Session) (*TrackSchema, error) {
	// The test page always renders the full desktop view, which references
	// the common bundle.
	page, err := session.Get(ctx, c.endpoints.BaseURL+"/test")
	if err != nil {
		return nil, err
	}

	match := bundlePathPattern.FindSubmatch(page.Body)
	if match == nil {
		return nil, &SchemaError{Reason: "common bundle reference not found"}
	}

	bundleURL := c.endpoints.StorageBaseURL + "/" + string(match[1])
	bundle, err := session.Get(ctx, bundleURL)
	if err != nil {
		return nil, err
	}

	return ParseTrackSchema(bundle.Body)
}

// ParseTrackSchema extracts the index enum from a script bundle body.
func ParseTrackSchema(bundle []byte) (*TrackSchema, error) {
	enum := indexEnumPattern.Find(bundle)
	if enum == nil {
		return nil, &SchemaError{Reason: "index enum not found in bundle"}
	}

	indices := make(map[string]int)
	for _, entry := range indexEntryPattern.FindAllSubmatch(enum, -1) {
		value, err := strconv.Atoi(string(entry[2]))
		if err != nil {
			continue
		}
		indices[string(entry[1])] = value
	}

	lookup := func(key string) int {
		if v, ok := indices[key]; ok {
			return v
		}
		return -1
	}

	schema := &TrackSchema{
		ID:        lookup("AUDIO_ITEM_INDEX_ID"),
		OwnerID:   lookup("AUDIO_ITEM_INDEX_OWNER_ID"),
		URL:       lookup("AUDIO_ITEM_INDEX_URL"),
		Title:     lookup("AUDIO_ITEM_INDEX_TITLE"),
		Performer: lookup("AUDIO_ITEM_INDEX_PERFORMER"),
		Duration:  lookup("AUDIO_ITEM_INDEX_DURATION"),
		Hashes:    lookup("AUDIO_ITEM_INDEX_HASHES"),
		TrackCode: lookup("AUDIO_ITEM_INDEX_TRACK_CODE"),
		AccessKey: lookup("AUDIO_ITEM_ACCESS_KEY"),
		CoverURL:  lookup("AUDIO_ITEM_INDEX_COVER_URL"),
	}
	if err := schema.validate(); err != nil {
		return nil, err
	}
	return schema, nil
}
