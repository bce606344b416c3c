package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/backup"
)

func mkfile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestPresets_Expand(t *testing.T) {
	etc := t.TempDir()
	home := t.TempDir()

	mkfile(t, filepath.Join(etc, "nginx", "nginx.conf"))
	mkfile(t, filepath.Join(etc, "nginx", "sites-available", "shop"))
	mkfile(t, filepath.Join(etc, "hosts"))
	mkfile(t, filepath.Join(etc, "ssh", "sshd_config"))
	mkfile(t, filepath.Join(home, ".bashrc"))
	mkfile(t, filepath.Join(home, ".config", "nvim", "init.lua"))

	p := PresetsConfig{
		NginxEnabled:    true,
		CrontabEnabled:  true,
		CrontabUser:     "deploy",
		UserConfigs:     []string{".bashrc", ".config/nvim", ".zshrc"},
		UserConfigsHome: home,
		EtcFiles:        []string{"hosts", "missing.conf"},
		EtcDirs:         []string{"ssh", "hosts", "nope"},
	}

	out := p.expand(etc)

	assert.Equal(t, []backup.PresetFile{
		{Source: filepath.Join(etc, "nginx", "nginx.conf"), Dest: "system/nginx/nginx.conf"},
		{Source: filepath.Join(home, ".bashrc"), Dest: "user-configs/.bashrc"},
		{Source: filepath.Join(etc, "hosts"), Dest: "etc/hosts"},
	}, out.Files)

	assert.Equal(t, []backup.PresetDir{
		{Source: filepath.Join(etc, "nginx", "sites-available"), Prefix: "system/nginx/sites-available"},
		{Source: filepath.Join(home, ".config/nvim"), Prefix: "user-configs/.config/nvim"},
		{Source: filepath.Join(etc, "ssh"), Prefix: "etc/ssh"},
	}, out.Dirs, "sites-enabled does not exist and etc_dirs only accepts directories")

	assert.True(t, out.Crontab)
	assert.Equal(t, "deploy", out.CrontabUser)
}

func TestPresets_NginxSites(t *testing.T) {
	etc := t.TempDir()
	mkfile(t, filepath.Join(etc, "nginx", "sites-available", "shop"))
	mkfile(t, filepath.Join(etc, "nginx", "sites-enabled", "shop"))
	mkfile(t, filepath.Join(etc, "nginx", "sites-available", "blog"))

	out := PresetsConfig{NginxSites: []string{"shop", "blog"}}.expand(etc)

	assert.Equal(t, []backup.PresetFile{
		{Source: filepath.Join(etc, "nginx", "sites-available", "shop"), Dest: "system/nginx/sites-available/shop"},
		{Source: filepath.Join(etc, "nginx", "sites-enabled", "shop"), Dest: "system/nginx/sites-enabled/shop"},
		{Source: filepath.Join(etc, "nginx", "sites-available", "blog"), Dest: "system/nginx/sites-available/blog"},
	}, out.Files)
	assert.Empty(t, out.Dirs)
	assert.False(t, out.Crontab)
}

func TestPresets_UserConfigsDefaultToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	mkfile(t, filepath.Join(home, ".vimrc"))

	out := PresetsConfig{UserConfigs: []string{".vimrc"}}.expand(t.TempDir())
	require.Len(t, out.Files, 1)
	assert.Equal(t, filepath.Join(home, ".vimrc"), out.Files[0].Source)
	assert.Equal(t, "user-configs/.vimrc", out.Files[0].Dest)
}
