package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	pcopy "github.com/evijayan2/pcopy/src"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	overwrite        bool
	skip             bool
	progress         bool
	threads          int
	continueOnError  bool
	excludes         []string
	journalPath      string
	manifestPath     string
	verify           bool
	logFile          string
	progressInterval time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pcopy SOURCE DESTINATION",
		Short: "Fast, multithreaded directory copy utility",
		Long: `pcopy copies the directory tree SOURCE to DESTINATION. Both the scan of
SOURCE and the copy itself are spread over a fixed pool of workers.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := rootCmd.Flags()
	flags.BoolVarP(&overwrite, "overwrite", "o", false, "Overwrite existing files. Without this the copy stops at the first existing file.")
	flags.BoolVarP(&skip, "skip", "s", false, "Leave existing destination files untouched and count them as skipped")
	flags.BoolVarP(&progress, "progress", "p", false, "Periodically log progress")
	flags.IntVarP(&threads, "threads", "t", pcopy.DefaultThreads(), "Number of workers for scan and copy")
	flags.BoolVar(&continueOnError, "continue-on-error", false, "Skip unreadable source directories instead of stopping the scan")
	flags.StringSliceVar(&excludes, "exclude", nil, "Exclude patterns relative to SOURCE (multiple allowed)")
	flags.StringVar(&journalPath, "journal", "", "Record every copied file with its checksum in a badger database at this path")
	flags.StringVar(&manifestPath, "manifest", "", "Write the scanned entries as JSON lines to this file (.zst is compressed)")
	flags.BoolVar(&verify, "verify", false, "Re-hash copied files against the journal after the copy (requires --journal)")
	flags.StringVar(&logFile, "log-file", "", "Also append log output to this file")
	flags.DurationVar(&progressInterval, "progress-interval", pcopy.DefaultProgressInterval, "Interval between progress lines")
	rootCmd.MarkFlagsMutuallyExclusive("overwrite", "skip")

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("pcopy failed")
		os.Exit(exitCode(err))
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()
	log.Logger = logger

	if verify && journalPath == "" {
		return errors.New("--verify requires --journal")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	copier := pcopy.Copier{
		Overwrite:        overwrite,
		Skip:             skip,
		ContinueOnError:  continueOnError,
		Progress:         progress,
		Threads:          threads,
		Excludes:         excludes,
		ProgressInterval: progressInterval,
		Journal:          journalPath,
		Manifest:         manifestPath,
	}

	report, err := copier.Run(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	logger.Info().
		Uint64("files_copied", report.Totals.FileCountCopied).
		Uint64("bytes_copied", report.Totals.ByteCountCopied).
		Uint64("files_skipped", report.Totals.FileCountSkipped).
		Int("dirs", report.Dirs).
		Int("scan_errors", report.ScanErrors).
		Dur("elapsed", report.Elapsed).
		Msg("Done")

	if verify {
		vr, err := pcopy.Verify(ctx, journalPath, args[1], threads)
		if err != nil {
			return err
		}
		if !vr.OK() {
			return &pcopy.MismatchError{Paths: vr.Mismatched}
		}
	}
	return nil
}

func newLogger() (zerolog.Logger, func(), error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout}
	var out io.Writer = consoleWriter
	closeLog := func() {}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		out = zerolog.MultiLevelWriter(consoleWriter, file)
		closeLog = func() { file.Close() }
	}

	logger := zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
	return logger, closeLog, nil
}

// exitCode maps a failure to a distinct process exit status per error kind.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	var mismatch *pcopy.MismatchError
	if errors.As(err, &mismatch) {
		return 3
	}
	if kind := pcopy.KindOf(err); kind != 0 {
		return 10 + int(kind)
	}
	return 1
}
