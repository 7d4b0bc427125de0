// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// hostrt_hello loads a module on a device and calls one of its functions with two float32 vectors:
//
//	hostrt_hello [flags] <device-uri> <module>
//
// The module can be a file path, a "gs://bucket/object" or an "https://" URL. Use -write_sample to
// create a sample module with the function "module.simple_mul", and -dump_devices to list the devices
// available.
//
// The exit code is the status code of the failure, 0 on success.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hostrt/pkg/core/bufferview"
	"github.com/gomlx/hostrt/pkg/core/shapes"
	"github.com/gomlx/hostrt/pkg/hostrt"
	"github.com/gomlx/hostrt/pkg/module"
	"github.com/gomlx/hostrt/pkg/modulesource"
	"github.com/gomlx/hostrt/pkg/status"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagFunction    = flag.String("function", "module.simple_mul", "Qualified name of the function to call with the two input vectors.")
	flagDrivers     = flag.String("drivers", "", "Comma separated list of drivers to instantiate. Defaults to all drivers compiled in.")
	flagDumpDevices = flag.Bool("dump_devices", false, "Lists the drivers and their devices, and exits.")
	flagWriteSample = flag.String("write_sample", "", "Writes a sample module with the function \"module.simple_mul\" to the given path, and exits.")
	flagCacheDir    = flag.String("cache_dir", "", "Directory where to cache modules downloaded from remote URIs.")
	flagNoColor     = flag.Bool("no_color", false, "Disables colors in the output.")
)

var (
	lhsValues = []float32{1.0, 1.1, 1.2, 1.3}
	rhsValues = []float32{10.0, 100.0, 1000.0, 10000.0}
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <device-uri> <module>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	err := run(context.Background(), flag.Args())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(status.CodeOf(err).ExitCode())
	}
}

func run(ctx context.Context, args []string) error {
	if *flagWriteSample != "" {
		return writeSample(*flagWriteSample)
	}

	var options hostrt.InstanceOptions
	if *flagDrivers != "" {
		options.Drivers = strings.Split(*flagDrivers, ",")
	}
	instance, err := hostrt.NewInstance(options)
	if err != nil {
		return err
	}
	defer instance.Release()
	if *flagDumpDevices {
		fmt.Println(devicesTable(instance.DriverRegistry()))
		return nil
	}

	if len(args) != 2 {
		flag.Usage()
		return status.Errorf(status.InvalidState, "expected 2 arguments <device-uri> <module>, got %d", len(args))
	}
	deviceURI, moduleURI := args[0], args[1]
	device, err := instance.CreateDevice(deviceURI)
	if err != nil {
		return err
	}
	defer device.Release()
	klog.V(1).Infof("using device %s: %s", device.URI(), device.Info().Name)

	session, err := hostrt.NewSession(instance, hostrt.SessionOptions{
		Fetcher: &modulesource.Fetcher{Progress: downloadProgress, CacheDir: *flagCacheDir},
	}, device)
	if err != nil {
		return err
	}
	defer session.Release()
	if err = session.AppendModuleFromURI(ctx, moduleURI); err != nil {
		return err
	}

	call, err := hostrt.InitializeCallByName(session, *flagFunction)
	if err != nil {
		return err
	}
	defer call.Deinitialize()
	for _, values := range [][]float32{lhsValues, rhsValues} {
		input, err := bufferview.FromFlatData(session.DeviceAllocator(), values, len(values))
		if err != nil {
			return err
		}
		fmt.Printf("input #%d: %s\n", call.NumInputs(), input)
		err = call.PushInput(input)
		input.Release()
		if err != nil {
			return err
		}
	}
	startedAt := time.Now()
	if err = call.Invoke(hostrt.InvokeDefault); err != nil {
		return err
	}
	if klog.V(1).Enabled() {
		stats := device.Info().Statistics
		klog.Infof("%s executed in %s, device memory peak %s", call.QualifiedName(), time.Since(startedAt),
			humanize.IBytes(uint64(stats.BytesPeak)))
	}
	for call.NumOutputs() > 0 {
		result, err := call.PopOutput()
		if err != nil {
			return err
		}
		fmt.Printf("result: %s\n", result)
		result.Release()
	}
	return nil
}

// writeSample writes a module with the function simple_mul(lhs, rhs) = lhs * rhs, for 4 float32 vectors.
func writeSample(filePath string) error {
	vec := shapes.Make(dtypes.Float32, len(lhsValues))
	b := module.NewBuilder("module")
	fn := b.NewFunction("simple_mul")
	fn.Return(module.Mul(fn.Parameter(vec), fn.Parameter(vec)))
	m, err := b.Build()
	if err != nil {
		return err
	}
	if err = module.WriteFile(filePath, m); err != nil {
		return err
	}
	fmt.Printf("sample module written to %q\n", filePath)
	return nil
}

// downloadProgress displays a progress bar of module downloads.
func downloadProgress(uri string, size int64) io.Writer {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetDescription("downloading "+path.Base(uri)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
