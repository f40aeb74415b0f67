package capture

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biokiosk/supervisor/internal/crypto"
)

func TestPersistWritesJPEGAndJSONSiblings(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	artifact := Artifact{
		SessionID:  "sess-1",
		PlatformID: "kiosk-lobby-01",
		Timestamp:  time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC),
		Score:      0.87,
		DistanceM:  0.6,
		StdDevM:    0.03,
		BBox:       [4]int{10, 20, 100, 120},
		ImageJPEG:  []byte{0xFF, 0xD8, 0xFF, 0xD9},
	}

	imgPath, err := store.Persist(artifact)
	require.NoError(t, err)
	require.FileExists(t, imgPath)

	metaPath := imgPath[:len(imgPath)-len(".jpg")] + ".json"
	require.FileExists(t, metaPath)

	raw, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var decoded Artifact
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, artifact.SessionID, decoded.SessionID)
	require.Equal(t, artifact.Score, decoded.Score)
}

func TestPersistWithKeyringEncryptsImageAtRest(t *testing.T) {
	dek, err := crypto.GenerateDEK()
	require.NoError(t, err)
	keyJSON := `[{"kid":"k1","material":"` + base64.StdEncoding.EncodeToString(dek) + `"}]`
	t.Setenv("MASTER_KEYS", keyJSON)
	t.Setenv("ACTIVE_MASTER_KID", "k1")

	kr := crypto.NewKeyring()
	require.NoError(t, kr.LoadFromEnv())

	dir := t.TempDir()
	store := NewStore(dir).WithKeyring(kr)

	plaintext := []byte{0xFF, 0xD8, 0xFF, 0xD9, 1, 2, 3}
	imgPath, err := store.Persist(Artifact{
		SessionID:  "sess-enc",
		PlatformID: "kiosk-1",
		Timestamp:  time.Now(),
		ImageJPEG:  plaintext,
	})
	require.NoError(t, err)
	require.True(t, filepath.Ext(imgPath) == ".enc")

	onDisk, err := os.ReadFile(imgPath)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, onDisk, "image bytes must not be stored in plaintext")
}

func TestPersistLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	_, err := store.Persist(Artifact{PlatformID: "kiosk-1", Timestamp: time.Now(), ImageJPEG: []byte("x")})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, filepath.Ext(e.Name()) == ".tmp", "temp file left behind: %s", e.Name())
	}
}
