package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/errors"
)

// mockGateway is a testify mock of Gateway
type mockGateway struct {
	mock.Mock
	bodies []string
}

func (m *mockGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	data, _ := io.ReadAll(body)
	m.bodies = append(m.bodies, string(data))
	args := m.Called(name, size)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	args := m.Called(name)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	args := m.Called(prefix)
	objects, _ := args.Get(0).([]ObjectInfo)
	return objects, args.Error(1)
}

func (m *mockGateway) Delete(ctx context.Context, name string) error {
	return m.Called(name).Error(0)
}

func (m *mockGateway) Name() string { return "mock" }

func fastRetry(attempts int) errors.RetryConfig {
	return errors.RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func transientErr() error {
	return providerError("mock", "op", "x", &errors.HTTPStatusError{StatusCode: 503, Status: "Service Unavailable"})
}

func permanentErr() error {
	return providerError("mock", "op", "x", &errors.HTTPStatusError{StatusCode: 403, Status: "Forbidden"})
}

func TestProviderError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		cause     error
		transient bool
		notFound  bool
	}{
		{"server error", &errors.HTTPStatusError{StatusCode: 500}, true, false},
		{"throttled", &errors.HTTPStatusError{StatusCode: 429}, true, false},
		{"request timeout", &errors.HTTPStatusError{StatusCode: 408}, true, false},
		{"unauthorized", &errors.HTTPStatusError{StatusCode: 401}, false, false},
		{"forbidden", &errors.HTTPStatusError{StatusCode: 403}, false, false},
		{"missing", &errors.HTTPStatusError{StatusCode: 404}, false, true},
		{"deadline", context.DeadlineExceeded, true, false},
		{"unknown", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := providerError("s3", "put", "backups/a.tar", tt.cause)
			assert.Equal(t, errors.ErrorTypeProvider, errors.GetErrorType(err))
			assert.Equal(t, tt.transient, errors.IsRecoverableError(err))
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.Equal(t, errors.ExitProvider, errors.ExitCode(err))
		})
	}
}

func TestRetrying_TransientUsesAllAttempts(t *testing.T) {
	inner := &mockGateway{}
	inner.On("List", KeyPrefix).Return(nil, transientErr()).Times(3)

	r := NewRetrying(inner, fastRetry(3), nil)
	var attempts []int
	r.onAttempt = func(op string, attempt int, err error) {
		assert.Equal(t, "list", op)
		attempts = append(attempts, attempt)
	}

	_, err := r.List(context.Background(), KeyPrefix)
	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.True(t, errors.IsRecoverableError(err))
	inner.AssertExpectations(t)
}

func TestRetrying_PermanentIsNotRetried(t *testing.T) {
	inner := &mockGateway{}
	inner.On("Delete", "backups/a.tar").Return(permanentErr()).Once()

	r := NewRetrying(inner, fastRetry(5), nil)
	calls := 0
	r.onAttempt = func(string, int, error) { calls++ }

	err := r.Delete(context.Background(), "backups/a.tar")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.ErrorTypeProvider, errors.GetErrorType(err))
	inner.AssertNumberOfCalls(t, "Delete", 1)
}

func TestRetrying_RecoversAfterTransientFailure(t *testing.T) {
	inner := &mockGateway{}
	inner.On("Put", "backups/a.tar", int64(7)).Return("", transientErr()).Once()
	inner.On("Put", "backups/a.tar", int64(7)).Return("id-1", nil).Once()

	r := NewRetrying(inner, fastRetry(3), nil)
	body := bytes.NewReader([]byte("archive"))

	id, err := r.Put(context.Background(), "backups/a.tar", body, 7)
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	// the second attempt saw the whole body again
	assert.Equal(t, []string{"archive", "archive"}, inner.bodies)
}

func TestRetrying_StopsWhenContextCanceled(t *testing.T) {
	inner := &mockGateway{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetrying(inner, fastRetry(3), nil)
	_, err := r.Get(ctx, "backups/a.tar")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeInterruption, errors.GetErrorType(err))
	inner.AssertNotCalled(t, "Get", mock.Anything)
}
