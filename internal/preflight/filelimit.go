package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open-file floor. The bleve sparse backend
// keeps a file per segment open, so low ulimits break large corpora
// mid-build.
const MinFileDescriptors = 1024

// CheckFileDescriptors verifies the soft file descriptor limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
	if rLimit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 4096' to raise the limit"
		return result
	}
	result.Status = StatusPass
	return result
}
