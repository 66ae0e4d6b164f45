package google

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestFileTokenStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	mine := NewFileTokenStore(path, "me@example.com")
	theirs := NewFileTokenStore(path, "you@example.com")

	_, err := mine.Load(ctx, "fit")
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, mine.Save(ctx, "fit", &oauth2.Token{AccessToken: "a"}))
	require.NoError(t, mine.Save(ctx, "fit", &oauth2.Token{AccessToken: "b"}))
	require.NoError(t, theirs.Save(ctx, "fit", &oauth2.Token{AccessToken: "c"}))

	tok, err := mine.Load(ctx, "fit")
	require.NoError(t, err)
	require.Equal(t, "b", tok.AccessToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, mine.DeleteAll(ctx))
	_, err = mine.Load(ctx, "fit")
	require.ErrorIs(t, err, ErrTokenNotFound)

	tok, err = theirs.Load(ctx, "fit")
	require.NoError(t, err)
	require.Equal(t, "c", tok.AccessToken)
}

func TestFileTokenStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileTokenStore(path, "me").Load(context.Background(), "fit")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTokenNotFound)
}
