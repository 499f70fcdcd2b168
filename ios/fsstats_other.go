// Package ios provides low-level access to the local storage subsystem used
// by the quota engine's LOCAL-backend provider-quota probe.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
//go:build !linux

package ios

import (
	"syscall"
)

// GetFSStats returns the total block count, available blocks, and block
// size for the filesystem hosting path, via statfs(2).
func GetFSStats(path string) (blocks, bavail uint64, bsize int64, err error) {
	var st syscall.Statfs_t
	if err = syscall.Statfs(path, &st); err != nil {
		return
	}
	return st.Blocks, st.Bavail, int64(st.Bsize), nil
}
