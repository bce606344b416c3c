package database

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/errors"
)

func TestDescriptor_SetDefaults(t *testing.T) {
	tests := []struct {
		in       Descriptor
		wantType string
		wantPort int
		wantHost string
	}{
		{Descriptor{Name: "app"}, TypePostgres, 5432, "localhost"},
		{Descriptor{Type: "PostgreSQL", Name: "app"}, TypePostgres, 5432, "localhost"},
		{Descriptor{Type: "mariadb", Name: "app"}, TypeMariaDB, 3306, "localhost"},
		{Descriptor{Type: "mongo", Name: "app", Port: 27018}, TypeMongoDB, 27018, "localhost"},
		{Descriptor{Type: "scylla", Name: "ks", Host: "db1"}, TypeScylla, 9042, "db1"},
		{Descriptor{Type: "redis", Name: "0"}, TypeRedis, 6379, "localhost"},
		{Descriptor{Type: "sqlite", Name: "/var/lib/app.db"}, TypeSQLite, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			d := tt.in
			d.SetDefaults()
			assert.Equal(t, tt.wantType, d.Type)
			assert.Equal(t, tt.wantPort, d.Port)
			assert.Equal(t, tt.wantHost, d.Host)
			assert.Equal(t, MethodTool, d.Method)
			assert.Equal(t, 30*time.Second, d.Timeout)
		})
	}
}

func TestDescriptor_Validate(t *testing.T) {
	valid := Descriptor{Type: TypeMySQL, Host: "localhost", Port: 3306, Name: "shop", User: "root", Method: MethodTool}
	require.NoError(t, valid.Validate())

	native := valid
	native.Method = MethodNative
	assert.NoError(t, native.Validate())

	redis := Descriptor{Type: TypeRedis, Host: "localhost", Port: 6379, Name: "0", Method: MethodTool}
	assert.NoError(t, redis.Validate(), "redis needs no user")

	sqlite := Descriptor{Type: TypeSQLite, Name: "/data/app.db", Method: MethodTool}
	assert.NoError(t, sqlite.Validate())

	tests := []struct {
		name   string
		modify func(d *Descriptor)
		want   string
	}{
		{"unknown type", func(d *Descriptor) { d.Type = "oracle" }, "unsupported database type"},
		{"missing name", func(d *Descriptor) { d.Name = "" }, "database.name is required"},
		{"bad port", func(d *Descriptor) { d.Port = 70000 }, "database.port"},
		{"missing user", func(d *Descriptor) { d.User = "" }, "database.user is required"},
		{"native postgres", func(d *Descriptor) { d.Type = TypePostgres; d.Method = MethodNative }, "only available for mysql"},
		{"unknown method", func(d *Descriptor) { d.Method = "snapshot" }, "database.method must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.modify(&d)
			err := d.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, errors.ExitConfig, errors.ExitCode(err))
		})
	}
}

func TestDescriptor_ArchiveName(t *testing.T) {
	tests := []struct {
		d    Descriptor
		want string
	}{
		{Descriptor{Type: TypePostgres, Name: "app"}, "database/app.sql"},
		{Descriptor{Type: TypeMariaDB, Name: "shop"}, "database/shop.sql"},
		{Descriptor{Type: TypeCassandra, Name: "ks"}, "database/ks.cql"},
		{Descriptor{Type: TypeRedis, Name: "0"}, "database/0.rdb"},
		{Descriptor{Type: TypeMongoDB, Name: "events"}, "database/events.archive"},
		{Descriptor{Type: TypeSQLite, Name: "/var/lib/app/data.db"}, "database/data.db.sqlite"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.d.ArchiveName())
	}
}

func TestDescriptor_DSNAndString(t *testing.T) {
	d := Descriptor{Type: TypeMySQL, Host: "db.internal", Port: 3307, Name: "shop", User: "backup", Password: "s3cret", Timeout: 5 * time.Second}

	dsn := d.DSN()
	assert.True(t, strings.HasPrefix(dsn, "backup:s3cret@tcp(db.internal:3307)/shop"), dsn)
	assert.Contains(t, dsn, "timeout=5s")

	assert.Equal(t, "mysql://backup@db.internal:3307/shop", d.String())
	assert.NotContains(t, d.String(), "s3cret")
}
