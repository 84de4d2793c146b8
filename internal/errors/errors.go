package errors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileError records a failure for one file during a batch operation.
type FileError struct {
	File      string
	Err       error
	Timestamp time.Time
}

// Error implements the error interface
func (fe *FileError) Error() string {
	return fmt.Sprintf("%s: %v", fe.File, fe.Err)
}

// Unwrap returns the per-file cause.
func (fe *FileError) Unwrap() error {
	return fe.Err
}

// ErrorCollector gathers per-file failures from batch asset operations
// (import, optimize) so one bad file never aborts the rest.
type ErrorCollector struct {
	fileErrors []FileError
	mutex      sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		fileErrors: make([]FileError, 0),
	}
}

// Add records a failure for file. Nil errors are ignored.
func (ec *ErrorCollector) Add(file string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.fileErrors = append(ec.fileErrors, FileError{File: file, Err: err, Timestamp: time.Now()})
}

// GetErrors returns a copy of the collected failures
func (ec *ErrorCollector) GetErrors() []FileError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]FileError, len(ec.fileErrors))
	copy(result, ec.fileErrors)
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.fileErrors) > 0
}

// Len returns the number of collected failures.
func (ec *ErrorCollector) Len() int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.fileErrors)
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.fileErrors = ec.fileErrors[:0]
}

// ErrorsByKind groups the collected failures by their SiteError kind.
func (ec *ErrorCollector) ErrorsByKind() map[Kind][]FileError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	grouped := make(map[Kind][]FileError)
	for _, fe := range ec.fileErrors {
		kind := KindOf(fe.Err)
		grouped[kind] = append(grouped[kind], fe)
	}
	return grouped
}

// Err folds the collected failures into a single error, or nil when empty.
func (ec *ErrorCollector) Err() error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	if len(ec.fileErrors) == 0 {
		return nil
	}

	lines := make([]string, 0, len(ec.fileErrors))
	for _, fe := range ec.fileErrors {
		lines = append(lines, fe.Error())
	}
	sort.Strings(lines)

	return &SiteError{
		Kind:        KindIO,
		Code:        "BATCH_FAILED",
		Message:     fmt.Sprintf("%d file(s) failed: %s", len(lines), strings.Join(lines, "; ")),
		Recoverable: true,
	}
}
