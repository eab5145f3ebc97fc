// Command perf2pprof converts a perf.data profile into one or more
// pprof-style profile.proto files, mirroring perf_to_profile's
// -i/-o/-f argument contract (original_source/src/perf_to_profile.cc)
// with additional flags exposing the normalizer's and converter's
// options.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	goerrors "github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/sirupsen/logrus"

	"perfconv/converter"
	"perfconv/internal/config"
	"perfconv/internal/plog"
	"perfconv/normalizer"
	"perfconv/perffile"
)

var (
	input       = ""
	output      = ""
	configPath  = ""
	overwrite   = false
	verbose     = false
	jsonLog     = false

	groupByPIDs          = true
	deduceHugePages      = false
	combineMappings      = false
	addDataAddressFrames = false
	sortEventsByTime     = false
)

func main() {
	flaggy.SetName("perf2pprof")
	flaggy.SetDescription("Converts a perf.data profile into pprof profile.proto files")

	flaggy.String(&input, "i", "input", "input perf.data file")
	flaggy.String(&output, "o", "output", "output profile path (or prefix, with --group-by-pids)")
	flaggy.String(&configPath, "c", "config", "optional perf2pprof.yaml config file")
	flaggy.Bool(&overwrite, "f", "force", "overwrite an existing output file")
	flaggy.Bool(&verbose, "v", "verbose", "enable debug logging")
	flaggy.Bool(&jsonLog, "", "json-log", "emit structured JSON logs instead of text")

	flaggy.Bool(&groupByPIDs, "", "group-by-pids", "emit one profile per pid (default true)")
	flaggy.Bool(&deduceHugePages, "", "deduce-hugepages", "fold transparent-huge-page mappings into their backing file mapping")
	flaggy.Bool(&combineMappings, "", "combine-mappings", "merge adjacent mappings with matching filename/build-id")
	flaggy.Bool(&addDataAddressFrames, "", "add-data-address-frames", "prepend a synthetic frame at each sample's data address")
	flaggy.Bool(&sortEventsByTime, "", "sort-events-by-time", "process records in timestamp order instead of file order")

	flaggy.Parse()

	log := plog.New(verbose, jsonLog)

	if input == "" || output == "" {
		log.Error("perf2pprof: -i and -o are both required")
		fmt.Println("usage: perf2pprof -i <input perf.data> -o <output profile> [-f]")
		os.Exit(1)
	}

	if !overwrite {
		if _, err := os.Stat(output); err == nil {
			log.WithField("output", output).Error("perf2pprof: output file already exists; pass -f to overwrite")
			os.Exit(1)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(log, err)
	}

	if err := run(log, cfg); err != nil {
		fatal(log, err)
	}
}

func fatal(log *logrus.Logger, err error) {
	wrapped := goerrors.Wrap(err, 0)
	log.Error(wrapped.ErrorStack())
	os.Exit(1)
}

func run(log *logrus.Logger, cfg *config.Config) error {
	file, err := perffile.Open(input)
	if err != nil {
		return fmt.Errorf("perf2pprof: opening %s: %w", input, err)
	}
	defer file.Close()

	normOpts := normalizer.Options{
		DeduceHugePages:  deduceHugePages || cfg.DeduceHugePages,
		CombineMappings:  combineMappings || cfg.CombineMappings,
		SortEventsByTime: sortEventsByTime || cfg.SortEventsByTime,
		Log:              log,
	}

	conv := converter.New(file, converter.Options{
		GroupByPIDs:          groupByPIDs && cfg.GroupByPIDsOrDefault(),
		AddDataAddressFrames: addDataAddressFrames || cfg.AddDataAddressFrames,
		LabelFields:          converter.LabelFieldsFromNames(cfg.LabelFields),
	})

	n := normalizer.New(file, conv, normOpts)
	if err := n.Normalize(); err != nil {
		return fmt.Errorf("perf2pprof: normalizing %s: %w", input, err)
	}
	n.Stats.WarnIfDegraded(log)

	profiles := conv.Profiles()
	for _, pp := range profiles {
		path := output
		if len(profiles) > 1 {
			path = fmt.Sprintf("%s.%d.pb.gz", output, pp.PID)
		}
		if err := pp.Builder.WriteFile(path); err != nil {
			return fmt.Errorf("perf2pprof: writing %s: %w", path, err)
		}
		printBuildIDStats(path, pp)
	}

	return nil
}

func printBuildIDStats(path string, pp *converter.ProcessProfile) {
	bold := color.New(color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Printf("%s %s\n", bold("wrote"), path)
	for src, count := range pp.BuildIDStats {
		label := src.String()
		switch src {
		case normalizer.BuildIdMissing, normalizer.BuildIdFilenameAmbiguous:
			fmt.Printf("  %s: %d\n", yellow(label), count)
		default:
			fmt.Printf("  %s: %d\n", green(label), count)
		}
	}
}
