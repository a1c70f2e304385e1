// Package notify decides who gets a quota mail and sends it. Decisions go
// through a persisted reminder cache so a subject who stays over quota is
// mailed once per cooldown period instead of once per run.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/internal/filecache"
	"github.com/hpcugent/quotareport/pkg/quota"
)

const notifyComponent = "Notifier"

// DefaultCooldown is the minimum time between two mails to the same subject,
// seven days in seconds.
const DefaultCooldown = int64(7 * 86400)

// Mailer delivers one message. Implementations must not retry; the reminder
// cache entry is only written after a successful send.
type Mailer interface {
	Send(to []string, subject, body string) error
}

// SMTPMailer sends through a relay host without authentication, the usual
// setup for cluster management nodes.
type SMTPMailer struct {
	Host string
	From string
}

func (m *SMTPMailer) Send(to []string, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.From, strings.Join(to, ", "), subject, body)
	return smtp.SendMail(m.Host, nil, m.From, to, []byte(msg))
}

// reminder is what lands in the cache per notified subject. The timestamp on
// the cache entry drives the cooldown; the body is kept for debugging.
type reminder struct {
	Subject string `json:"subject"`
	Exceeds bool   `json:"exceeds"`
}

// Notifier gates and delivers quota notifications for one run.
type Notifier struct {
	cache    *filecache.FileCache
	mailer   Mailer
	Cooldown int64
	DryRun   bool
}

func New(cache *filecache.FileCache, mailer Mailer) *Notifier {
	return &Notifier{
		cache:    cache,
		mailer:   mailer,
		Cooldown: DefaultCooldown,
	}
}

// ShouldNotify consults and re-arms the reminder cache for one subject. It
// returns true when the subject was never notified or the last notification
// is at least the cooldown old; in that case the cache entry is refreshed and
// the caller must send. A dry run never touches the cache.
func (n *Notifier) ShouldNotify(key string, exceeds bool, now int64) (bool, error) {
	if n.DryRun {
		if ts, found, _ := n.cache.Load(key, nil); found && now-ts < n.Cooldown {
			return false, nil
		}
		return true, nil
	}
	return n.cache.Update(key, reminder{Subject: key, Exceeds: exceeds}, n.Cooldown, now)
}

// NotifyUser mails one user whose quota is exceeded. Failures for one user
// are logged and reported, never fatal for the run.
func (n *Notifier) NotifyUser(user *quota.User, address string, now int64) error {
	key := fmt.Sprintf("user_%s_%s", user.Storage, user.UserID)
	send, err := n.ShouldNotify(key, user.Exceeds(), now)
	if err != nil {
		return fmt.Errorf("reminder cache for %s: %w", key, err)
	}
	if !send {
		cclog.ComponentDebug(notifyComponent, "user", user.UserID, "still in cooldown, not mailing")
		return nil
	}

	body, err := renderUserMail(user)
	if err != nil {
		return fmt.Errorf("render mail for %s: %w", user.UserID, err)
	}
	subject := fmt.Sprintf("Quota on %s exceeded", user.Storage)

	if n.DryRun {
		cclog.ComponentInfo(notifyComponent, "dry run, would mail", address, "about", user.UserID)
		return nil
	}
	if err := n.mailer.Send([]string{address}, subject, body); err != nil {
		return fmt.Errorf("mail %s: %w", address, err)
	}
	cclog.ComponentInfo(notifyComponent, "notified user", user.UserID, "at", address)
	return nil
}

// NotifyFileset mails the moderators of a fileset (a VO or project) whose
// quota is exceeded.
func (n *Notifier) NotifyFileset(fileset *quota.Fileset, addresses []string, now int64) error {
	key := fmt.Sprintf("fileset_%s_%s", fileset.Storage, fileset.FilesetID)
	send, err := n.ShouldNotify(key, fileset.Exceeds(), now)
	if err != nil {
		return fmt.Errorf("reminder cache for %s: %w", key, err)
	}
	if !send {
		cclog.ComponentDebug(notifyComponent, "fileset", fileset.FilesetID, "still in cooldown, not mailing")
		return nil
	}

	body, err := renderFilesetMail(fileset)
	if err != nil {
		return fmt.Errorf("render mail for %s: %w", fileset.FilesetID, err)
	}
	subject := fmt.Sprintf("Quota for %s on %s exceeded", fileset.FilesetID, fileset.Storage)

	if n.DryRun {
		cclog.ComponentInfo(notifyComponent, "dry run, would mail", strings.Join(addresses, ","), "about", fileset.FilesetID)
		return nil
	}
	if err := n.mailer.Send(addresses, subject, body); err != nil {
		return fmt.Errorf("mail %s: %w", strings.Join(addresses, ","), err)
	}
	cclog.ComponentInfo(notifyComponent, "notified moderators of", fileset.FilesetID)
	return nil
}

// NotifyAdmin sends a single mail to the admin address. Used for the inode
// criticals; no cooldown applies, the caller already aggregates per run.
func (n *Notifier) NotifyAdmin(address, subject, body string) error {
	if n.DryRun {
		cclog.ComponentInfo(notifyComponent, "dry run, would mail admin", address)
		return nil
	}
	return n.mailer.Send([]string{address}, subject, body)
}
