package notify

import (
	"strings"
	"text/template"

	"github.com/hpcugent/quotareport/pkg/quota"
)

var userMailTemplate = template.Must(template.New("user").Parse(`Dear {{.UserID}},

Your data usage on {{.Storage}} has exceeded the allowed quota. New data can
no longer be written once the grace period runs out, and running jobs that
write to this location may fail.

Current usage:

{{.Report}}

Please clean up or move data, or request a quota increase through the usual
support channel. This reminder repeats at most once a week while the
situation persists.

Kind regards,
your friendly storage administrators
`))

var filesetMailTemplate = template.Must(template.New("fileset").Parse(`Dear moderator,

The shared storage of {{.FilesetID}} on {{.Storage}} has exceeded its quota.
Members can no longer write new data once the grace period runs out.

Current usage:

{{.Report}}

Please ask the members to clean up, or request a quota increase through the
usual support channel. This reminder repeats at most once a week while the
situation persists.

Kind regards,
your friendly storage administrators
`))

func renderUserMail(user *quota.User) (string, error) {
	var sb strings.Builder
	err := userMailTemplate.Execute(&sb, struct {
		UserID  string
		Storage string
		Report  string
	}{user.UserID, user.Storage, user.String()})
	return sb.String(), err
}

func renderFilesetMail(fileset *quota.Fileset) (string, error) {
	var sb strings.Builder
	err := filesetMailTemplate.Execute(&sb, struct {
		FilesetID string
		Storage   string
		Report    string
	}{fileset.FilesetID, fileset.Storage, fileset.String()})
	return sb.String(), err
}
