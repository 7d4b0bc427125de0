// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hostrt is the host side runtime: it loads modules of precompiled functions and invokes them
// with buffers on a device selected at run time.
//
// The handles follow the lifecycle Instance -> Device -> Session -> Call:
//
//	instance := must.M1(hostrt.NewInstance(hostrt.InstanceOptions{}))
//	defer instance.Release()
//	device := must.M1(instance.CreateDevice("local-task"))
//	defer device.Release()
//	session := must.M1(hostrt.NewSession(instance, hostrt.SessionOptions{}, device))
//	defer session.Release()
//	must.M(session.AppendModuleFromFile("simple_mul.hrtm"))
//
//	call := must.M1(hostrt.InitializeCallByName(session, "module.simple_mul"))
//	defer call.Deinitialize()
//	lhs := must.M1(bufferview.FromFlatData(session.DeviceAllocator(), []float32{1, 1.1, 1.2, 1.3}, 4))
//	must.M(call.PushInput(lhs))
//	lhs.Release()  // The call retains its inputs.
//	...
//	must.M(call.Invoke(hostrt.InvokeDefault))
//	result := must.M1(call.PopOutput())  // Ownership moves to the caller.
//	defer result.Release()
//
// Instances and Devices are safe for concurrent use. Sessions and Calls are not: each should be used by
// one goroutine at a time, but distinct Sessions can be used concurrently even if they share a Device.
//
// Every fallible operation returns an error tagged with a status.Code. Handles are reference counted
// (Retain/Release); releasing more times than retained panics.
package hostrt

import (
	// Compile in the default drivers.
	_ "github.com/gomlx/hostrt/backends/default"
)
