// Package filesystems wraps the GPFS and Lustre administrative command-line
// tools and turns their output into the quota domain model. All state that
// the original tools kept process-wide (mount tables, filesystem and fileset
// listings) lives in explicit operation objects here, so tests can construct
// independent instances with canned command output.
package filesystems

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
	"github.com/hpcugent/quotareport/pkg/tabular"
)

// MissingDeviceError reports a requested device without corresponding data in
// the discovered output. Callers treat it as "skip this device", not as a
// fatal condition for the run.
type MissingDeviceError struct {
	Device string
}

func (e *MissingDeviceError) Error() string {
	return fmt.Sprintf("no data for device %s", e.Device)
}

// Runner executes one administrative command and returns its exit code and
// captured stdout. Implementations must not interpret the output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (int, string, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (int, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			cclog.ComponentDebug("ExecRunner", "command", cmd.String(), "exit code", exitErr.ExitCode(), "stderr", stderr.String())
			return exitErr.ExitCode(), stdout.String(), nil
		}
		return -1, "", fmt.Errorf("failed to execute %q: %w", cmd.String(), err)
	}
	return 0, stdout.String(), nil
}

// deviceResult pairs the assembled table of one device invocation with its
// error. Results stay index-aligned with the device list so the later merge
// is deterministic regardless of completion order.
type deviceResult struct {
	device string
	table  tabular.Table
	err    error
}

// collectDevices invokes collect once per device on a bounded worker pool.
// The invocations are independent; a failure for one device never affects the
// others. Results come back in device order.
func collectDevices(ctx context.Context, devices []string, workers int, collect func(context.Context, string) (tabular.Table, error)) []deviceResult {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(devices) {
		workers = len(devices)
	}

	results := make([]deviceResult, len(devices))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				table, err := collect(ctx, devices[i])
				results[i] = deviceResult{device: devices[i], table: table, err: err}
			}
		}()
	}
	for i := range devices {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
