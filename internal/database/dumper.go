package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/execution"
	"zesty-backup/internal/logging"
)

// Dumper writes a logical dump of a database to a local file
type Dumper interface {
	Dump(ctx context.Context, desc Descriptor, path string) error
}

// NewDumper returns the dumper for the descriptor's method
func NewDumper(desc Descriptor, runner execution.CommandRunner, logger *logging.Logger) Dumper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if desc.Method == MethodNative {
		return NewNativeMySQLDumper(logger)
	}
	return NewToolDumper(runner, logger)
}

// ToolDumper runs the vendor dump utility for each database type
type ToolDumper struct {
	runner execution.CommandRunner
	logger *logging.Logger
}

// NewToolDumper creates a dumper backed by external tools
func NewToolDumper(runner execution.CommandRunner, logger *logging.Logger) *ToolDumper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if runner == nil {
		runner = execution.NewExecRunner(logger)
	}
	return &ToolDumper{runner: runner, logger: logger}
}

// toolFor returns the executable used for a database type
func toolFor(dbType string) string {
	switch dbType {
	case TypePostgres:
		return "pg_dump"
	case TypeMySQL, TypeMariaDB:
		return "mysqldump"
	case TypeMongoDB:
		return "mongodump"
	case TypeCassandra, TypeScylla:
		return "cqlsh"
	case TypeRedis:
		return "redis-cli"
	default:
		return ""
	}
}

// Dump runs the tool and leaves its output at path. A partial file is
// removed on failure.
func (t *ToolDumper) Dump(ctx context.Context, desc Descriptor, path string) (err error) {
	done := t.logger.LogOperationStart("database_dump", map[string]interface{}{
		"database": desc.String(),
		"output":   path,
	})
	defer func() { done(err) }()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewArchiveBuildError("failed to create dump directory", err)
	}

	if desc.Type == TypeSQLite {
		return copySQLite(desc.Name, path)
	}

	tool := toolFor(desc.Type)
	if tool == "" {
		return errors.NewConfigError(fmt.Sprintf("unsupported database type %q", desc.Type), nil)
	}
	if _, lookErr := t.runner.LookPath(tool); lookErr != nil {
		return errors.NewAppError(errors.ErrorTypeNotFound,
			fmt.Sprintf("%s is not installed", tool), lookErr).
			WithContext("database", desc.Type)
	}

	cmd := t.command(desc, tool, path)
	toFile := cmd.Stdout == nil && desc.Type != TypeMongoDB && desc.Type != TypeRedis
	var out *os.File
	if toFile {
		out, err = os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return errors.NewArchiveBuildError("failed to create dump file", err)
		}
		cmd.Stdout = out
	}

	_, runErr := t.runner.Run(ctx, cmd)
	if out != nil {
		if closeErr := out.Close(); runErr == nil && closeErr != nil {
			runErr = closeErr
		}
	}
	if runErr != nil {
		os.Remove(path)
		return errors.WrapError(runErr, fmt.Sprintf("%s failed for %s", tool, desc.Name))
	}
	return nil
}

// command builds the invocation. Passwords are passed through the
// environment where the tool supports it.
func (t *ToolDumper) command(desc Descriptor, tool, path string) execution.Command {
	port := strconv.Itoa(desc.Port)
	cmd := execution.Command{Name: tool}

	switch desc.Type {
	case TypePostgres:
		cmd.Args = []string{"-h", desc.Host, "-p", port, "-U", desc.User, "-d", desc.Name, "-F", "plain"}
		if desc.Password != "" {
			cmd.Env = []string{"PGPASSWORD=" + desc.Password}
		}
	case TypeMySQL, TypeMariaDB:
		cmd.Args = []string{"-h", desc.Host, "-P", port, "-u", desc.User, "--single-transaction", "--routines", "--triggers", desc.Name}
		if desc.Password != "" {
			cmd.Env = []string{"MYSQL_PWD=" + desc.Password}
		}
	case TypeMongoDB:
		cmd.Args = []string{"--host", desc.Host, "--port", port, "--db", desc.Name, "--archive=" + path}
		if desc.User != "" {
			cmd.Args = append(cmd.Args, "--username", desc.User)
		}
		if desc.Password != "" {
			cmd.Args = append(cmd.Args, "--password", desc.Password)
			cmd.Sensitive = true
		}
	case TypeCassandra, TypeScylla:
		cmd.Args = []string{desc.Host, port}
		if desc.User != "" {
			cmd.Args = append(cmd.Args, "-u", desc.User)
		}
		if desc.Password != "" {
			cmd.Args = append(cmd.Args, "-p", desc.Password)
			cmd.Sensitive = true
		}
		cmd.Args = append(cmd.Args, "-e", fmt.Sprintf("DESCRIBE KEYSPACE %s;", desc.Name))
	case TypeRedis:
		cmd.Args = []string{"-h", desc.Host, "-p", port, "--rdb", path}
		if desc.Password != "" {
			cmd.Env = []string{"REDISCLI_AUTH=" + desc.Password}
		}
	}
	return cmd
}

func copySQLite(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WrapError(err, "failed to open sqlite database")
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.NewArchiveBuildError("failed to create dump file", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.NewArchiveBuildError("failed to copy sqlite database", err)
	}
	return out.Close()
}
