package notify

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcugent/quotareport/internal/filecache"
	"github.com/hpcugent/quotareport/pkg/quota"
)

type fakeMailer struct {
	sent []string
}

func (m *fakeMailer) Send(to []string, subject, body string) error {
	m.sent = append(m.sent, strings.Join(to, ","))
	return nil
}

func newTestNotifier(t *testing.T) (*Notifier, *fakeMailer) {
	t.Helper()
	cache, err := filecache.Open(filepath.Join(t.TempDir(), "reminders.json.gz"))
	require.NoError(t, err)
	mailer := &fakeMailer{}
	return New(cache, mailer), mailer
}

func exceedingUser() *quota.User {
	u := quota.NewUser("VSC_SCRATCH", "scratchfs", "vsc40001")
	remaining := uint64(3600)
	u.Update("vsc400", quota.Information{
		Timestamp: 1,
		Used:      2048,
		Soft:      1024,
		Hard:      4096,
		Expired:   quota.GraceStatus{Expired: true, Remaining: &remaining},
	})
	return u
}

func TestShouldNotifyCooldown(t *testing.T) {
	n, _ := newTestNotifier(t)
	t0 := int64(1000000)

	ok, err := n.ShouldNotify("user_scratch_vsc40001", true, t0)
	require.NoError(t, err)
	assert.True(t, ok, "first notification must pass")

	ok, err = n.ShouldNotify("user_scratch_vsc40001", true, t0+n.Cooldown-1)
	require.NoError(t, err)
	assert.False(t, ok, "notification within the cooldown must be gated")

	ok, err = n.ShouldNotify("user_scratch_vsc40001", true, t0+n.Cooldown)
	require.NoError(t, err)
	assert.True(t, ok, "notification after the cooldown must pass")
}

func TestNotifyUserSendsOncePerCooldown(t *testing.T) {
	n, mailer := newTestNotifier(t)
	u := exceedingUser()
	t0 := int64(1000000)

	require.NoError(t, n.NotifyUser(u, "vsc40001@example.org", t0))
	require.NoError(t, n.NotifyUser(u, "vsc40001@example.org", t0+60))
	assert.Len(t, mailer.sent, 1)
	assert.Equal(t, "vsc40001@example.org", mailer.sent[0])
}

func TestNotifyUserDryRun(t *testing.T) {
	n, mailer := newTestNotifier(t)
	n.DryRun = true
	u := exceedingUser()

	require.NoError(t, n.NotifyUser(u, "vsc40001@example.org", 1000000))
	assert.Empty(t, mailer.sent, "dry run must not mail")

	// The dry run must not have armed the cooldown either.
	ok, err := n.ShouldNotify("user_VSC_SCRATCH_vsc40001", true, 1000000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNotifyFileset(t *testing.T) {
	n, mailer := newTestNotifier(t)
	f := quota.NewFileset("VSC_SCRATCH", "scratchfs", "gvo00002")
	remaining := uint64(0)
	f.Update("gvo00002", quota.Information{
		Timestamp: 1,
		Expired:   quota.GraceStatus{Expired: true, Remaining: &remaining},
	})

	moderators := []string{"mod1@example.org", "mod2@example.org"}
	require.NoError(t, n.NotifyFileset(f, moderators, 1000000))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "mod1@example.org,mod2@example.org", mailer.sent[0])
}

func TestRenderUserMail(t *testing.T) {
	body, err := renderUserMail(exceedingUser())
	require.NoError(t, err)
	assert.Contains(t, body, "Dear vsc40001")
	assert.Contains(t, body, "VSC_SCRATCH")
	assert.Contains(t, body, "grace: 1 hours")
}
