// Command perfrecorder wraps the system perf binary to run "perf
// record" (or "perf stat"/"perf mem") for a fixed duration and,
// optionally, pipe the result through "perf inject", mirroring
// original_source/src/quipper/perf_recorder.{h,cc}'s
// RunCommandAndGetSerializedOutput. It validates arguments the same
// way before exec'ing anything; it does not reimplement perf itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/integrii/flaggy"
	"github.com/sirupsen/logrus"

	"perfconv/internal/plog"
)

var (
	durationFlag = "2"
	perfPath     = "/usr/bin/perf"
	outputFile = ""
	runInject  = false
	verbose    = false

	injectArgsRaw = ""
	perfArgsRaw   = ""
)

// supportedSubcommands mirrors perf_recorder.cc's kPerfRecordCommand/
// kPerfStatCommand/kPerfMemCommand allow-list.
var supportedSubcommands = map[string]bool{
	"record": true,
	"stat":   true,
	"mem":    true,
}

func main() {
	flaggy.SetName("perfrecorder")
	flaggy.SetDescription("Runs `perf record` (or stat/mem) for a fixed duration and writes perf.data")

	flaggy.String(&durationFlag, "d", "duration", "how long to record, in seconds")
	flaggy.String(&perfPath, "", "perf_path", "path to the perf binary")
	flaggy.String(&outputFile, "o", "output_file", "perf.data output path")
	flaggy.Bool(&runInject, "", "run_inject", "pipe the recording through `perf inject` afterwards")
	flaggy.String(&injectArgsRaw, "", "inject_args", "space-separated extra arguments for `perf inject`")
	flaggy.String(&perfArgsRaw, "", "perf_args", "space-separated arguments after `perf` itself, e.g. \"record -e cycles\"")
	flaggy.Bool(&verbose, "v", "verbose", "enable debug logging")

	flaggy.Parse()

	log := plog.New(verbose, false)

	if outputFile == "" {
		log.Error("perfrecorder: --output_file is required")
		os.Exit(1)
	}

	duration, err := strconv.ParseFloat(durationFlag, 64)
	if err != nil {
		log.WithError(err).Error("perfrecorder: --duration must be a number")
		os.Exit(1)
	}

	perfArgs := splitNonEmpty(perfArgsRaw)
	if err := validatePerfArgs(perfArgs); err != nil {
		log.WithError(err).Error("perfrecorder: refusing to run")
		os.Exit(1)
	}

	if err := run(log, perfArgs, duration); err != nil {
		log.WithError(err).Error("perfrecorder: recording failed")
		os.Exit(1)
	}
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}

// validatePerfArgs mirrors ValidatePerfCommandLine's intent: only a
// known subcommand is accepted, and ETM recording requires inject
// args be supplied (perf_recorder.cc "IsRecordingETM").
func validatePerfArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("perfrecorder: --perf_args must name a subcommand (record, stat, mem)")
	}
	if !supportedSubcommands[args[0]] {
		return fmt.Errorf("perfrecorder: unsupported perf subcommand %q", args[0])
	}
	if args[0] == "record" && isRecordingETM(args) && strings.TrimSpace(injectArgsRaw) == "" {
		return fmt.Errorf("perfrecorder: --inject_args must be provided when recording ETM (cs_etm)")
	}
	return nil
}

func isRecordingETM(args []string) bool {
	for i, a := range args {
		if a != "-e" || i+1 >= len(args) {
			continue
		}
		if strings.Contains(args[i+1], "cs_etm") {
			return true
		}
	}
	return false
}

func run(log *logrus.Logger, perfArgs []string, duration float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(duration*float64(time.Second))+30*time.Second)
	defer cancel()

	fullArgs := append([]string{}, perfArgs...)
	fullArgs = append(fullArgs, "-o", outputFile)
	if perfArgs[0] != "inject" {
		fullArgs = append(fullArgs, "--", "sleep", fmt.Sprintf("%v", duration))
	}

	cmd := exec.CommandContext(ctx, perfPath, fullArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.WithField("args", fullArgs).Debug("perfrecorder: running perf")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s %v: %w", perfPath, fullArgs, err)
	}

	if !runInject {
		return nil
	}
	return runPerfInject(ctx, log)
}

func runPerfInject(ctx context.Context, log *logrus.Logger) error {
	args := []string{"inject", "-f"}
	args = append(args, splitNonEmpty(injectArgsRaw)...)
	args = append(args, "-i", outputFile)

	cmd := exec.CommandContext(ctx, perfPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.WithField("args", args).Debug("perfrecorder: running perf inject")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s %v: %w", perfPath, args, err)
	}
	return nil
}
