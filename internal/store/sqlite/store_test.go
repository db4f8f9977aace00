package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listen_engine/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAccountsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	accounts := []model.Account{
		{
			Login: "a@example.com", Password: "1", Valid: true, Authorized: true,
			User:    &model.UserInfo{ID: 42, FirstName: "Jane"},
			Cookies: []model.CookieJarEntry{{URL: "https://vk.com", Cookies: []model.Cookie{{Name: "remixsid", Value: "x"}}}},
		},
		{Login: "b@example.com", Password: "2", Valid: true},
	}
	require.NoError(t, store.ReplaceAccounts(ctx, accounts))

	loaded, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a@example.com", loaded[0].Login)
	require.NotNil(t, loaded[0].User)
	assert.Equal(t, int64(42), loaded[0].User.ID)
	require.Len(t, loaded[0].Cookies, 1)
	assert.Equal(t, "remixsid", loaded[0].Cookies[0].Cookies[0].Name)

	// Replace drops rows that are gone from the snapshot.
	require.NoError(t, store.ReplaceAccounts(ctx, accounts[:1]))
	loaded, err = store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestProxiesRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	proxies := []model.Proxy{
		{Type: model.ProxyTypeHTTP, Address: "10.0.0.1", Port: 8080, Valid: true},
		{Type: model.ProxyTypeSOCKS, Address: "10.0.0.2", Port: 1080, Auth: &model.ProxyAuth{Username: "u", Password: "p"}},
	}
	require.NoError(t, store.ReplaceProxies(ctx, proxies))

	loaded, err := store.ListProxies(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, model.ProxyTypeSOCKS, loaded[1].Type)
	require.NotNil(t, loaded[1].Auth)
	assert.Equal(t, "u", loaded[1].Auth.Username)
}

func TestTasksRoundTripSplitsHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	active := []model.Task{{
		ID: "task-1", Enabled: true,
		Playlist: model.Playlist{PlaylistMeta: model.PlaylistMeta{ID: 1, OwnerID: -100}, Title: "P"},
		Progress: model.TaskProgress{Initial: 10, Actual: 20, Target: 60},
	}}
	history := []model.Task{{
		ID:       "task-0",
		Playlist: model.Playlist{PlaylistMeta: model.PlaylistMeta{ID: 2, OwnerID: -100}},
		Progress: model.TaskProgress{Initial: 0, Actual: 50, Target: 50},
	}}
	require.NoError(t, store.ReplaceTasks(ctx, active, history))

	loadedActive, loadedHistory, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, loadedActive, 1)
	require.Len(t, loadedHistory, 1)
	assert.Equal(t, "task-1", loadedActive[0].ID)
	assert.Equal(t, "task-0", loadedHistory[0].ID)
	assert.Equal(t, int64(60), loadedActive[0].Progress.Target)
}

func TestSettingsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	type prefs struct {
		Threshold int    `json:"threshold"`
		Label     string `json:"label"`
	}
	require.NoError(t, store.SaveSetting(ctx, "scheduler", prefs{Threshold: 7, Label: "x"}))

	var out prefs
	found, err := store.LoadSetting(ctx, "scheduler", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, prefs{Threshold: 7, Label: "x"}, out)

	found, err = store.LoadSetting(ctx, "missing", &out)
	require.NoError(t, err)
	assert.False(t, found)
}
