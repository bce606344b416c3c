package storage

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/execution"
)

const megaListing = `FLAGS VERS    SIZE DATE                NAME
d---     -       - 2024-01-01T08:00:00 old
----     1    1024 2024-01-15T10:30:00 backup-20240115-103000.tar.zst
----     1     310 2024-01-15T10:30:01 backup-20240115-103000.tar.zst.manifest.json
`

func newMegaTest(t *testing.T, runner *execution.FakeRunner) *MegaGateway {
	t.Helper()
	gw, err := NewMegaGateway(Config{
		Provider:    "mega",
		AccountName: "me@example.com",
		AccountKey:  "hunter2",
		BucketID:    "zesty",
	}, runner)
	require.NoError(t, err)
	return gw
}

func TestParseMegaListing(t *testing.T) {
	objects, err := ParseMegaListing(megaListing)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "backups/backup-20240115-103000.tar.zst", objects[0].Name)
	assert.Equal(t, int64(1024), objects[0].Size)
	assert.Equal(t, 15, objects[0].ModTime.Day())

	_, err = ParseMegaListing("----  1  notanumber 2024-01-15T10:30:00 x.tar\n")
	assert.Error(t, err)
	_, err = ParseMegaListing("----  1  12\n")
	assert.Error(t, err)
}

func TestMegaGateway_LogsInWhenSessionMissing(t *testing.T) {
	runner := execution.NewFakeRunner().
		On("mega-cmd whoami", execution.FakeResponse{ExitCode: 57, Stderr: "Not logged in"}).
		On("mega-cmd login", execution.FakeResponse{}).
		On("mega-cmd ls", execution.FakeResponse{Stdout: megaListing})
	gw := newMegaTest(t, runner)

	objects, err := gw.List(context.Background(), KeyPrefix)
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	// the session is reused
	_, err = gw.List(context.Background(), KeyPrefix)
	require.NoError(t, err)

	lines := runner.CommandLines()
	assert.Equal(t, "mega-cmd whoami", lines[0])
	assert.True(t, runner.Calls[1].Sensitive)
	assert.Equal(t, "mega-cmd ls -l --time-format=ISO6601_WITH_TIME /zesty", lines[2])
	assert.Len(t, lines, 4)
}

func TestMegaGateway_PutStagesThenMoves(t *testing.T) {
	var uploaded string
	runner := execution.NewFakeRunner().
		On("mega-cmd whoami", execution.FakeResponse{Stdout: "Account e-mail: me@example.com"}).
		On("mega-cmd mkdir", execution.FakeResponse{ExitCode: 54, Stderr: "Folder already exists"}).
		On("mega-cmd rm -f /zesty/.upload-a.tar", execution.FakeResponse{ExitCode: 53, Stderr: "Couldn't find /zesty/.upload-a.tar"}).
		On("mega-cmd rm -f /zesty/a.tar", execution.FakeResponse{}).
		On("mega-cmd put", execution.FakeResponse{Do: func(cmd execution.Command) error {
			data, err := os.ReadFile(cmd.Args[2])
			uploaded = string(data)
			return err
		}}).
		On("mega-cmd mv", execution.FakeResponse{})
	gw := newMegaTest(t, runner)

	remote, err := gw.Put(context.Background(), Key("a.tar"), bytes.NewReader([]byte("content")), 7)
	require.NoError(t, err)
	assert.Equal(t, "/zesty/a.tar", remote)
	assert.Equal(t, "content", uploaded)

	lines := runner.CommandLines()
	require.Len(t, lines, 6)
	assert.Equal(t, "mega-cmd mkdir -p /zesty", lines[1])
	assert.Equal(t, "mega-cmd rm -f /zesty/.upload-a.tar", lines[2])
	assert.True(t, strings.HasSuffix(lines[3], " /zesty/.upload-a.tar"), lines[3])
	assert.Equal(t, "mega-cmd rm -f /zesty/a.tar", lines[4], "the old copy goes only after the upload finished")
	assert.Equal(t, "mega-cmd mv /zesty/.upload-a.tar /zesty/a.tar", lines[5])
}

func TestMegaGateway_FailedUploadKeepsPreviousCopy(t *testing.T) {
	runner := execution.NewFakeRunner().
		On("mega-cmd whoami", execution.FakeResponse{}).
		On("mega-cmd mkdir", execution.FakeResponse{}).
		On("mega-cmd rm", execution.FakeResponse{}).
		On("mega-cmd put", execution.FakeResponse{ExitCode: 1, Stderr: "Transfer failed"})
	gw := newMegaTest(t, runner)

	_, err := gw.Put(context.Background(), Key("a.tar"), bytes.NewReader([]byte("content")), 7)
	require.Error(t, err)
	assert.NotContains(t, runner.CommandLines(), "mega-cmd rm -f /zesty/a.tar")
}

func TestMegaGateway_ListHidesStagedUploads(t *testing.T) {
	listing := megaListing + "----     1     512 2024-01-15T10:31:00 .upload-backup-20240115-110000.tar.zst\n"
	runner := execution.NewFakeRunner().
		On("mega-cmd whoami", execution.FakeResponse{}).
		On("mega-cmd ls", execution.FakeResponse{Stdout: listing})
	gw := newMegaTest(t, runner)

	objects, err := gw.List(context.Background(), KeyPrefix)
	require.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestMegaGateway_GetRemovesTempFileOnClose(t *testing.T) {
	var local string
	runner := execution.NewFakeRunner().
		On("mega-cmd whoami", execution.FakeResponse{}).
		On("mega-cmd get /zesty/a.tar", execution.FakeResponse{Do: func(cmd execution.Command) error {
			local = cmd.Args[2]
			return os.WriteFile(local, []byte("downloaded"), 0o600)
		}}).
		On("mega-cmd get /zesty/missing.tar", execution.FakeResponse{ExitCode: 53, Stderr: "Couldn't find /zesty/missing.tar"})
	gw := newMegaTest(t, runner)

	rc, err := gw.Get(context.Background(), Key("a.tar"))
	require.NoError(t, err)
	assert.Equal(t, "downloaded", readAll(t, rc))
	_, err = os.Stat(local)
	assert.True(t, os.IsNotExist(err))

	_, err = gw.Get(context.Background(), Key("missing.tar"))
	assert.True(t, IsNotFound(err))
}

func TestMegaGateway_FailuresArePermanent(t *testing.T) {
	runner := execution.NewFakeRunner().
		On("mega-cmd whoami", execution.FakeResponse{}).
		On("mega-cmd ls", execution.FakeResponse{Stdout: "----  1  garbage 2024-01-15T10:30:00 a.tar\n"}).
		On("mega-cmd rm", execution.FakeResponse{ExitCode: 1, Stderr: "Access denied"})
	gw := newMegaTest(t, runner)

	_, err := gw.List(context.Background(), KeyPrefix)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeProvider, errors.GetErrorType(err))
	assert.False(t, errors.IsRecoverableError(err))

	err = gw.Delete(context.Background(), Key("a.tar"))
	require.Error(t, err)
	assert.False(t, errors.IsRecoverableError(err))
	assert.False(t, IsNotFound(err))
}

func TestMegaGateway_LoginFailure(t *testing.T) {
	runner := execution.NewFakeRunner().
		On("mega-cmd whoami", execution.FakeResponse{ExitCode: 57}).
		On("mega-cmd login", execution.FakeResponse{ExitCode: 9, Stderr: "Login failed: invalid email or password"})
	gw := newMegaTest(t, runner)

	err := gw.Delete(context.Background(), Key("a.tar"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Equal(t, errors.ExitProvider, errors.ExitCode(err))
}

func TestNewMegaGateway_PrefersInstalledBinary(t *testing.T) {
	runner := execution.NewFakeRunner().Missing("mega-cmd")
	gw, err := NewMegaGateway(Config{AccountName: "me", AccountKey: "pw"}, runner)
	require.NoError(t, err)
	assert.Equal(t, "megacmd", gw.binary)
	assert.Equal(t, "/backups", gw.folder)

	_, err = NewMegaGateway(Config{}, runner)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetErrorType(err))
}
