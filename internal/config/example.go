package config

// DefaultExampleFile is where `config generate` writes when no -o is given
const DefaultExampleFile = "zesty-backup.yaml.example"

const exampleYAML = `# zesty-backup configuration
#
# Every key can be overridden from the environment with the ZESTY_BACKUP_
# prefix, e.g. ZESTY_BACKUP_STORAGE_SECRET_KEY.

storage:
  # s3, aws, contabo, digitalocean, wasabi, minio, r2, b2, gcs, azure,
  # local, gdrive, onedrive, dropbox, box, pcloud, mega
  provider: s3
  region: eu-central-1
  bucket: my-backups
  access_key: YOUR_ACCESS_KEY
  secret_key: YOUR_SECRET_KEY
  # endpoint: https://s3.example.com   # minio and custom S3 endpoints
  # account_id: ...                    # r2
  # account_name: ...                  # azure, mega
  # account_key: ...                   # azure, mega
  # credentials_path: /etc/zesty/gcs.json
  # path: /mnt/nfs/backups             # local

backup:
  project_path: /var/www/app
  local_backup_dir: /var/backups/zesty
  additional_paths:
    - /etc/hosts
  exclude:
    - "*.log"
    - node_modules
    - .git
  # zstd, gzip, lz4 or none; level 0 stores without compression
  compression_format: zstd
  compression_level: 3
  retention_days: 7
  # start a new full archive once the newest full is this many days old
  full_every_days: 7

daemon:
  backup_interval_hours: 6
  upload_interval_hours: 24
  cycle_timeout: 2h
  upload_workers: 3
  remote_retention: false
  pid_file: /var/run/zesty-backup.pid

database:
  enabled: false
  # postgres, mysql, mariadb, mongodb, cassandra, scylla, redis, sqlite
  type: postgres
  host: localhost
  port: 5432
  name: app
  user: app
  # the password may also come from DB_PASSWORD or DATABASE_URL in the
  # project .env file
  # password: ...
  # tool runs pg_dump/mysqldump/...; native dumps mysql over the wire
  method: tool

system:
  command_outputs:
    - command: uname
      args: ["-a"]
      output_file: uname.txt
    - command: dpkg
      args: ["--get-selections"]
      output_file: packages.txt
      enabled: false
  systemd_services:
    - app.service
  systemd_timers: []
  unit_dir: /etc/systemd/system
  presets:
    nginx_enabled: false
    nginx_sites: []
    crontab_enabled: false
    # crontab_user: www-data
    user_configs:
      - .bashrc
    # user_configs_home: /home/deploy
    etc_files: []
    etc_dirs: []

logging:
  # quiet, normal, verbose, debug
  level: normal
  # text or json
  format: text
  # log_dir: /var/log/zesty-backup

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s
`

// ExampleYAML returns a documented sample configuration
func ExampleYAML() string {
	return exampleYAML
}

// WriteExample writes the sample configuration to path
func WriteExample(path string) error {
	if path == "" {
		path = DefaultExampleFile
	}
	return writeConfig(path, []byte(exampleYAML))
}
