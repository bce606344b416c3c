package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConfig represents invalid or incomplete configuration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeScan represents failures walking the source tree
	ErrorTypeScan ErrorType = "scan"
	// ErrorTypeArchiveBuild represents failures writing an archive
	ErrorTypeArchiveBuild ErrorType = "archive_build"
	// ErrorTypeProvider represents remote storage failures
	ErrorTypeProvider ErrorType = "provider"
	// ErrorTypeRetention represents failures deleting expired archives
	ErrorTypeRetention ErrorType = "retention"
	// ErrorTypeRestore represents extraction, verification and path-traversal failures
	ErrorTypeRestore ErrorType = "restore"
	// ErrorTypeConnection represents network connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeNotFound represents missing files or remote objects
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// Exit codes reported by the CLI, one per error class.
const (
	ExitOK           = 0
	ExitUnknown      = 1
	ExitConfig       = 2
	ExitScan         = 3
	ExitArchiveBuild = 4
	ExitProvider     = 5
	ExitRetention    = 6
	ExitRestore      = 7
	ExitInterrupted  = 130
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfig, message, cause)
}

// NewScanError creates a fatal scan error
func NewScanError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeScan, message, cause)
}

// NewArchiveBuildError creates an archive build error
func NewArchiveBuildError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeArchiveBuild, message, cause)
}

// NewTransientProviderError creates a provider error that may succeed on retry
func NewTransientProviderError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeProvider, message, cause)
}

// NewPermanentProviderError creates a provider error that must not be retried
func NewPermanentProviderError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeProvider, message, cause)
}

// NewRetentionError creates a per-entry retention error
func NewRetentionError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeRetention, message, cause)
}

// NewRestoreError creates a restore error
func NewRestoreError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeRestore, message, cause)
}

// HTTPStatusError is returned by REST based providers for non-2xx responses
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("http %d %s", e.StatusCode, e.Status)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	// Check if it's already an AppError
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if httpErr := ec.classifyHTTPError(err); httpErr != nil {
		return httpErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	// Classify context errors before network errors, a deadline is also a net.Error
	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	// Default to unknown error
	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyHTTPError classifies HTTP status errors from REST providers
func (ec *ErrorClassifier) classifyHTTPError(err error) *AppError {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return nil
	}

	code := statusErr.StatusCode
	switch {
	case code >= 500, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return NewRecoverableError(ErrorTypeConnection,
			fmt.Sprintf("Remote service unavailable (HTTP %d)", code), err).
			WithContext("http_status", code)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return NewAppError(ErrorTypePermission,
			"Remote service rejected the credentials", err).
			WithContext("http_status", code)
	case code == http.StatusNotFound:
		return NewAppError(ErrorTypeNotFound, "Remote object not found", err).
			WithContext("http_status", code)
	default:
		return NewAppError(ErrorTypeUnknown,
			fmt.Sprintf("Remote service returned HTTP %d", code), err).
			WithContext("http_status", code)
	}
}

// classifyMySQLError classifies MySQL driver errors raised while dumping
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return NewAppError(ErrorTypePermission,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return NewAppError(ErrorTypeNotFound,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003, 2006, 2013:
			return NewRecoverableError(ErrorTypeConnection,
				"MySQL server unreachable or connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeUnknown,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}

	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return NewRecoverableError(ErrorTypeConnection, "Connection reset by peer", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout,
			"Network operation timed out", err)
	}

	// Check for specific network error types
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection,
				"Network I/O error", err)
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return NewRecoverableError(ErrorTypeConnection, "Temporary DNS failure", err)
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout,
			"Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption,
			"Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeNotFound,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES, syscall.EPERM:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeArchiveBuild,
				"No space left on device", err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
	onAttempt  func(attempt int, err error)
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// OnAttempt registers a hook called after every failed attempt
func (rh *RetryHandler) OnAttempt(fn func(attempt int, err error)) *RetryHandler {
	rh.onAttempt = fn
	return rh
}

// MaxAttempts returns the configured attempt ceiling
func (rh *RetryHandler) MaxAttempts() int {
	return rh.config.MaxAttempts
}

// Retry executes a function with retry logic for recoverable errors.
// Non-recoverable errors are returned after the first attempt.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		// Check if context is canceled
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil // Success
		}

		lastErr = err
		if rh.onAttempt != nil {
			rh.onAttempt(attempt, err)
		}
		appErr := rh.classifier.ClassifyError(err)

		// If error is not recoverable, don't retry
		if !appErr.IsRecoverable() {
			return appErr.WithContext("attempts", attempt)
		}

		// Don't retry on the last attempt
		if attempt == rh.config.MaxAttempts {
			break
		}

		// Calculate delay with exponential backoff
		delay := rh.calculateDelay(attempt)

		// Wait before retrying
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-timer.C:
		}
	}

	// All attempts failed
	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)

	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// GracefulShutdownHandler handles graceful shutdown on interruption signals.
// The first signal closes Stopping so running work can finish; the
// registered functions run once, from Stop. A second signal runs them
// immediately and exits the process.
type GracefulShutdownHandler struct {
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan struct{}
	stopping      chan struct{}
	once          sync.Once
	stopOnce      sync.Once
	cleanupOnce   sync.Once
	exit          func(code int)
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 2),
		done:          make(chan struct{}),
		stopping:      make(chan struct{}),
		exit:          os.Exit,
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)
	go gsh.listen()
}

func (gsh *GracefulShutdownHandler) listen() {
	for range gsh.signalChan {
		select {
		case <-gsh.stopping:
			fmt.Fprintln(os.Stderr, "Forced shutdown, not waiting for running work")
			gsh.shutdown()
			gsh.exit(ExitInterrupted)
			return
		default:
			gsh.Trigger()
		}
	}
}

// Stopping is closed as soon as a shutdown signal was received
func (gsh *GracefulShutdownHandler) Stopping() <-chan struct{} {
	return gsh.stopping
}

// Trigger starts the shutdown sequence without a signal
func (gsh *GracefulShutdownHandler) Trigger() {
	gsh.once.Do(func() {
		close(gsh.stopping)
	})
}

// Stop stops listening and runs the registered functions
func (gsh *GracefulShutdownHandler) Stop() {
	gsh.stopOnce.Do(func() {
		signal.Stop(gsh.signalChan)
		close(gsh.signalChan)
	})
	gsh.shutdown()
}

// WaitForShutdown waits until the registered functions have run
func (gsh *GracefulShutdownHandler) WaitForShutdown() {
	<-gsh.done
}

// shutdown executes all registered shutdown functions, once
func (gsh *GracefulShutdownHandler) shutdown() {
	gsh.cleanupOnce.Do(func() {
		defer close(gsh.done)

		for i := len(gsh.shutdownFuncs) - 1; i >= 0; i-- {
			if err := gsh.shutdownFuncs[i](); err != nil {
				// Log error but continue with shutdown
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
	})
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// IsType reports whether any AppError in the chain has the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errorType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// ExitCode maps an error to the process exit code for its class
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch GetErrorType(err) {
	case ErrorTypeConfig:
		return ExitConfig
	case ErrorTypeScan:
		return ExitScan
	case ErrorTypeArchiveBuild:
		return ExitArchiveBuild
	case ErrorTypeProvider, ErrorTypeConnection, ErrorTypeTimeout:
		return ExitProvider
	case ErrorTypeRetention:
		return ExitRetention
	case ErrorTypeRestore:
		return ExitRestore
	case ErrorTypeInterruption:
		return ExitInterrupted
	default:
		return ExitUnknown
	}
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Cause != nil && appErr.UserMessage == "" {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
		}
		return appErr.GetUserMessage()
	}

	return err.Error()
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classifier := NewErrorClassifier()
	classified := classifier.ClassifyError(err)
	wrapped := NewAppError(classified.Type, message, err)
	wrapped.Recoverable = classified.Recoverable
	return wrapped
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns a plain error with the given text
func New(text string) error {
	return errors.New(text)
}
