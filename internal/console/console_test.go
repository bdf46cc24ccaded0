package console

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/approval"
)

type allowAll struct{}

func (allowAll) Validate(string) bool { return true }

type fakeKeys struct {
	key     string
	rotated int
	err     error
}

func (k *fakeKeys) URL(port int) string {
	return fmt.Sprintf("ws://127.0.0.1:%d?key=%s", port, k.key)
}

func (k *fakeKeys) ExpiresAt() time.Time {
	return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
}

func (k *fakeKeys) Regenerate() (string, error) {
	if k.err != nil {
		return "", k.err
	}
	k.rotated++
	k.key = "rotated"
	return k.key, nil
}

func newTestConsole(t *testing.T) (*Console, *approval.Channel, *fakeKeys, *bytes.Buffer) {
	t.Helper()
	ch := approval.New(approval.Config{AllowRedecide: true}, allowAll{}, nil)
	keys := &fakeKeys{key: "abc"}
	var out bytes.Buffer
	c := New(ch, keys, func() int { return 17321 }, &out)
	return c, ch, keys, &out
}

func TestConsole_AnnouncesNewMessages(t *testing.T) {
	_, ch, _, out := newTestConsole(t)
	ch.Submit(approval.Message{ID: "m1", Title: "Deploy", RequiresResponse: true})

	assert.Contains(t, out.String(), "m1")
	assert.Contains(t, out.String(), `"Deploy"`)
	assert.Contains(t, out.String(), "awaiting decision")
}

func TestConsole_ListAndShow(t *testing.T) {
	c, ch, _, out := newTestConsole(t)

	require.NoError(t, c.Execute("list"))
	assert.Contains(t, out.String(), "No messages")

	ch.Submit(approval.Message{ID: "m1", Title: "Deploy", Body: "kubectl apply", Code: "apply -f x.yaml", RiskLevel: "high"})
	out.Reset()
	require.NoError(t, c.Execute("list"))
	assert.Contains(t, out.String(), "m1")
	assert.Contains(t, out.String(), "Deploy")

	out.Reset()
	require.NoError(t, c.Execute("show m1"))
	assert.Contains(t, out.String(), "kubectl apply")
	assert.Contains(t, out.String(), "apply -f x.yaml")

	assert.Error(t, c.Execute("show nope"))
	assert.Error(t, c.Execute("show"))
}

func TestConsole_ApproveAndReject(t *testing.T) {
	c, ch, _, _ := newTestConsole(t)
	ch.Submit(approval.Message{ID: "m1", Title: "Deploy"})
	ch.Submit(approval.Message{ID: "m2", Title: "Delete"})

	require.NoError(t, c.Execute("approve m1 ship it"))
	require.NoError(t, c.Execute("reject m2"))

	m1, _ := ch.Get("m1")
	assert.Equal(t, approval.StatusApproved, m1.Status)
	assert.Equal(t, "ship it", m1.Feedback)

	m2, _ := ch.Get("m2")
	assert.Equal(t, approval.StatusRejected, m2.Status)
	assert.Empty(t, m2.Feedback)

	assert.Error(t, c.Execute("approve missing"))
	assert.Error(t, c.Execute("approve"))
}

func TestConsole_KeyAndRotate(t *testing.T) {
	c, _, keys, out := newTestConsole(t)

	require.NoError(t, c.Execute("key"))
	assert.Contains(t, out.String(), "ws://127.0.0.1:17321?key=abc")

	out.Reset()
	require.NoError(t, c.Execute("rotate"))
	assert.Equal(t, 1, keys.rotated)
	assert.Contains(t, out.String(), "key=rotated")

	keys.err = errors.New("disk full")
	assert.ErrorContains(t, c.Execute("rotate"), "disk full")
}

func TestConsole_QuitAndUnknown(t *testing.T) {
	c, _, _, _ := newTestConsole(t)
	assert.ErrorIs(t, c.Execute("quit"), errQuit)
	assert.Error(t, c.Execute("frobnicate"))
	assert.NoError(t, c.Execute("   "))
	assert.NoError(t, c.Execute("help"))
}

func TestPrepareHistory_OwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "console_history")

	require.NoError(t, prepareHistory(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	dir, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dir.Mode().Perm())

	require.NoError(t, os.Chmod(path, 0644))
	require.NoError(t, prepareHistory(path))
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWithHistoryFile(t *testing.T) {
	ch := approval.New(approval.Config{}, allowAll{}, nil)
	c := New(ch, &fakeKeys{}, func() int { return 0 }, &bytes.Buffer{}, WithHistoryFile("/data/console_history"))
	assert.Equal(t, "/data/console_history", c.historyFile)
}
