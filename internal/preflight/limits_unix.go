//go:build !windows

package preflight

import (
	"fmt"
	"syscall"
)

// File watchers hold a descriptor per watched directory on some platforms.
const (
	minFileDescriptors         = 256
	recommendedFileDescriptors = 4096
)

// checkFileDescriptors verifies the descriptor limit the watch tool inherits.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// RLIM_INFINITY does not fit in an int
	actual := int(min(uint64(limit.Cur), 1<<31-1))

	return Check{
		Name:     "file_descriptors",
		Required: minFileDescriptors,
		Actual:   actual,
		Passed:   actual >= minFileDescriptors,
		Warning:  actual < recommendedFileDescriptors,
		Message:  fmt.Sprintf("ulimit -n %d (recommend %d)", actual, recommendedFileDescriptors),
	}
}
