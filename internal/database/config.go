package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"zesty-backup/internal/errors"
)

// Supported database types
const (
	TypePostgres  = "postgres"
	TypeMySQL     = "mysql"
	TypeMariaDB   = "mariadb"
	TypeMongoDB   = "mongodb"
	TypeCassandra = "cassandra"
	TypeScylla    = "scylla"
	TypeRedis     = "redis"
	TypeSQLite    = "sqlite"
)

// Dump methods
const (
	// MethodTool runs the vendor dump utility
	MethodTool = "tool"
	// MethodNative dumps MySQL/MariaDB over database/sql
	MethodNative = "native"
)

var defaultPorts = map[string]int{
	TypePostgres:  5432,
	TypeMySQL:     3306,
	TypeMariaDB:   3306,
	TypeMongoDB:   27017,
	TypeCassandra: 9042,
	TypeScylla:    9042,
	TypeRedis:     6379,
}

// Descriptor identifies the database to dump. Password is already resolved
// by the configuration layer.
type Descriptor struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Type     string        `mapstructure:"type" yaml:"type"`
	Host     string        `mapstructure:"host" yaml:"host,omitempty"`
	Port     int           `mapstructure:"port" yaml:"port,omitempty"`
	Name     string        `mapstructure:"name" yaml:"name"`
	User     string        `mapstructure:"user" yaml:"user,omitempty"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	Method   string        `mapstructure:"method" yaml:"method,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// SetDefaults fills the type, port, method and timeout
func (d *Descriptor) SetDefaults() {
	d.Type = normalizeType(d.Type)
	if d.Type == "" {
		d.Type = TypePostgres
	}
	if d.Port == 0 {
		d.Port = defaultPorts[d.Type]
	}
	if d.Host == "" && d.Type != TypeSQLite {
		d.Host = "localhost"
	}
	if d.Method == "" {
		d.Method = MethodTool
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
}

func normalizeType(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case "postgresql", "pg":
		return TypePostgres
	case "mongo":
		return TypeMongoDB
	default:
		return t
	}
}

// Validate checks that the descriptor can be dumped
func (d *Descriptor) Validate() error {
	var problems []string

	if _, ok := defaultPorts[d.Type]; !ok && d.Type != TypeSQLite {
		return errors.NewConfigError(fmt.Sprintf("unsupported database type %q (supported: postgres, mysql, mariadb, mongodb, cassandra, scylla, redis, sqlite)", d.Type), nil)
	}
	if d.Name == "" {
		problems = append(problems, "database.name is required")
	}
	if d.Type != TypeSQLite {
		if d.Host == "" {
			problems = append(problems, "database.host is required")
		}
		if d.Port <= 0 || d.Port > 65535 {
			problems = append(problems, "database.port must be between 1 and 65535")
		}
		if d.User == "" && d.Type != TypeRedis {
			problems = append(problems, "database.user is required")
		}
	}
	switch d.Method {
	case MethodTool:
	case MethodNative:
		if d.Type != TypeMySQL && d.Type != TypeMariaDB {
			problems = append(problems, "database.method native is only available for mysql and mariadb")
		}
	default:
		problems = append(problems, fmt.Sprintf("database.method must be %q or %q", MethodTool, MethodNative))
	}

	if len(problems) > 0 {
		return errors.NewConfigError("invalid database configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// DSN returns the go-sql-driver/mysql data source name
func (d *Descriptor) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
	cfg.DBName = d.Name
	cfg.Timeout = d.Timeout
	cfg.ParseTime = false
	return cfg.FormatDSN()
}

// Extension returns the file extension of the dump
func (d *Descriptor) Extension() string {
	switch d.Type {
	case TypePostgres, TypeMySQL, TypeMariaDB:
		return "sql"
	case TypeCassandra, TypeScylla:
		return "cql"
	case TypeRedis:
		return "rdb"
	case TypeMongoDB:
		return "archive"
	case TypeSQLite:
		return "sqlite"
	default:
		return "dump"
	}
}

// ArchiveName is the path of the dump inside a backup archive
func (d *Descriptor) ArchiveName() string {
	name := d.Name
	if d.Type == TypeSQLite {
		name = baseName(name)
	}
	return fmt.Sprintf("database/%s.%s", name, d.Extension())
}

// String never includes the password
func (d Descriptor) String() string {
	if d.Type == TypeSQLite {
		return fmt.Sprintf("%s:%s", d.Type, d.Name)
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s", d.Type, d.User, d.Host, d.Port, d.Name)
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
