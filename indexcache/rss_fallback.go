// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexcache

import "golang.org/x/sys/unix"

// readRSSMBFallback approximates resident set size via getrusage(2) when
// /proc/self/status is unavailable (non-Linux hosts, or a sandboxed
// environment without /proc). Maxrss is peak RSS rather than current RSS,
// a coarser read than the primary VmRSS probe but still adequate as a trim
// trigger. Reported in kilobytes on Linux, the primary deployment target.
func readRSSMBFallback() (int64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	return int64(ru.Maxrss) / 1024, nil
}
