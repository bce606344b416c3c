package config

import (
	"os"
	"path"
	"path/filepath"

	"zesty-backup/internal/backup"
)

// PresetsConfig names common system files by intent rather than by path
type PresetsConfig struct {
	NginxEnabled    bool     `mapstructure:"nginx_enabled" yaml:"nginx_enabled"`
	NginxSites      []string `mapstructure:"nginx_sites" yaml:"nginx_sites,omitempty"`
	CrontabEnabled  bool     `mapstructure:"crontab_enabled" yaml:"crontab_enabled"`
	CrontabUser     string   `mapstructure:"crontab_user" yaml:"crontab_user,omitempty"`
	UserConfigs     []string `mapstructure:"user_configs" yaml:"user_configs,omitempty"`
	UserConfigsHome string   `mapstructure:"user_configs_home" yaml:"user_configs_home,omitempty"`
	EtcFiles        []string `mapstructure:"etc_files" yaml:"etc_files,omitempty"`
	EtcDirs         []string `mapstructure:"etc_dirs" yaml:"etc_dirs,omitempty"`
}

// ExpandedPresets is the concrete file list behind a PresetsConfig
type ExpandedPresets struct {
	Files       []backup.PresetFile
	Dirs        []backup.PresetDir
	Crontab     bool
	CrontabUser string
}

// ExpandPresets resolves the presets against the live filesystem. Paths
// that do not exist are left out.
func (c *Config) ExpandPresets() ExpandedPresets {
	return c.System.Presets.expand("/etc")
}

func (p PresetsConfig) expand(etc string) ExpandedPresets {
	out := ExpandedPresets{
		Crontab:     p.CrontabEnabled,
		CrontabUser: p.CrontabUser,
	}

	nginx := filepath.Join(etc, "nginx")
	if p.NginxEnabled {
		out.add(filepath.Join(nginx, "nginx.conf"), "system/nginx/nginx.conf")
		out.add(filepath.Join(nginx, "sites-available"), "system/nginx/sites-available")
		out.add(filepath.Join(nginx, "sites-enabled"), "system/nginx/sites-enabled")
	}
	for _, site := range p.NginxSites {
		if p.NginxEnabled {
			// already covered by the whole directories
			break
		}
		out.add(filepath.Join(nginx, "sites-available", site), path.Join("system/nginx/sites-available", site))
		out.add(filepath.Join(nginx, "sites-enabled", site), path.Join("system/nginx/sites-enabled", site))
	}

	if len(p.UserConfigs) > 0 {
		home := p.UserConfigsHome
		if home == "" {
			home = os.Getenv("HOME")
		}
		if home == "" {
			home = "/root"
		}
		for _, name := range p.UserConfigs {
			out.add(filepath.Join(home, name), path.Join("user-configs", filepath.ToSlash(name)))
		}
	}

	for _, name := range p.EtcFiles {
		out.add(filepath.Join(etc, name), path.Join("etc", filepath.ToSlash(name)))
	}
	for _, name := range p.EtcDirs {
		src := filepath.Join(etc, name)
		if info, err := os.Stat(src); err == nil && info.IsDir() {
			out.Dirs = append(out.Dirs, backup.PresetDir{Source: src, Prefix: path.Join("etc", filepath.ToSlash(name))})
		}
	}
	return out
}

// add records src as a file or a directory depending on what it is
func (e *ExpandedPresets) add(src, dest string) {
	info, err := os.Stat(src)
	if err != nil {
		return
	}
	if info.IsDir() {
		e.Dirs = append(e.Dirs, backup.PresetDir{Source: src, Prefix: dest})
		return
	}
	e.Files = append(e.Files, backup.PresetFile{Source: src, Dest: dest})
}
