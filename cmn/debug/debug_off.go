//go:build !debug

// Package debug provides assertions compiled in only under the "debug"
// build tag. This is the release variant: every call is a no-op so release
// builds pay nothing for development-time invariants.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "sync"

func Errorln(...interface{})              {}
func Errorf(string, ...interface{})       {}
func Infof(string, ...interface{})        {}
func Func(f func())                       { _ = f }
func Assert(bool, ...interface{})         {}
func AssertFunc(func() bool, ...interface{}) {}
func AssertMsg(bool, string)              {}
func AssertNoErr(error)                   {}
func Assertf(bool, string, ...interface{}) {}
func AssertMutexLocked(*sync.Mutex)       {}
func AssertRWMutexLocked(*sync.RWMutex)   {}
