package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcugent/quotareport/internal/checker"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotareport.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"storages": [
			{
				"name": "VSC_SCRATCH",
				"backend": "gpfs",
				"filesystem": "scratchfs",
				"user_path_template": "/gpfs/scratch/%s",
				"user_prefix": "vsc",
				"mail_domain": "example.org"
			},
			{
				"name": "LUSTRE_SCRATCH",
				"backend": "lustre",
				"filesystem": "kwlust"
			}
		],
		"lustre_hints": {
			"kwlust": {
				"mountpoint": "/lustre/scratch",
				"project_locations": ["gent", "gent/vo/*"],
				"projectid_maps": {"gvo": 900000}
			}
		},
		"mail": {"host": "smtp.example.org:25", "from": "hpc@example.org"},
		"workers": 8
	}`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Storages, 2)
	assert.Equal(t, "VSC_SCRATCH", cfg.Storages[0].Name)
	assert.Equal(t, "/gpfs/scratch/%s", cfg.Storages[0].UserPathTemplate)
	assert.Equal(t, 8, cfg.Workers)

	// Defaults kick in for everything the file leaves out.
	assert.Equal(t, int64(7*86400), cfg.NotificationCooldown)
	assert.Equal(t, int64(900), cfg.StaleThreshold)
	assert.NotEmpty(t, cfg.ReminderCachePath)

	hint, found := cfg.LustreHints["kwlust"]
	require.True(t, found)
	assert.Equal(t, "/lustre/scratch", hint.MountPoint)
	assert.Equal(t, int64(900000), hint.ProjectIDMaps["gvo"])
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `{"storages": [{"name": "x", "backend": "nfs", "filesystem": "y"}]}`)
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestLoadConfigRequiresStorages(t *testing.T) {
	path := writeConfig(t, `{"storages": []}`)
	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestConfiguredBackends(t *testing.T) {
	cfg := &Config{Storages: []checker.StorageConfig{
		{Name: "a", Backend: "gpfs"},
		{Name: "b", Backend: "lustre"},
		{Name: "c", Backend: "gpfs"},
	}}
	assert.Equal(t, []string{"gpfs", "lustre"}, configuredBackends(cfg))
}
