package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ncloudioj/gcp-ingestion/internal/codec"
	"github.com/ncloudioj/gcp-ingestion/internal/engine"
	"github.com/ncloudioj/gcp-ingestion/internal/event"
)

type processOpts struct {
	input    string
	output   string
	failures string
	format   string
}

func newProcessCmd() *cobra.Command {
	var opts processOpts
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Stream a record file through the stage",
		Long: `Reads records from --input, writes successes to --output and failures to
--failures. Files ending in .gz, .zst or .lz4 are (de)compressed. In
contextual_services mode the output holds one JSON interaction per line;
in geo mode it holds the enriched records.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.input, "input", "-", "Input record file (- for stdin)")
	cmd.Flags().StringVar(&opts.output, "output", "-", "Output file (- for stdout)")
	cmd.Flags().StringVar(&opts.failures, "failures", "", "Failure record file (empty drops failures)")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Record format: json or cbor")
	return cmd
}

func runProcess(cmd *cobra.Command, opts processOpts) error {
	format, err := codec.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}

	in, err := codec.Open(opts.input)
	if err != nil {
		return err
	}
	defer in.Close()
	reader, err := codec.NewRecordReader(in, format)
	if err != nil {
		return err
	}

	out, err := codec.Create(opts.output)
	if err != nil {
		return err
	}
	sink := &engine.StreamSink{}
	if a.stage.Mode() == engine.ModeContextualServices {
		sink.Interactions = codec.NewJSONLines(out)
	} else if sink.Records, err = codec.NewRecordWriter(out, format); err != nil {
		out.Close()
		return err
	}

	var failOut io.WriteCloser
	if opts.failures != "" {
		if failOut, err = codec.Create(opts.failures); err != nil {
			out.Close()
			return err
		}
		if sink.Failures, err = codec.NewRecordWriter(failOut, format); err != nil {
			out.Close()
			failOut.Close()
			return err
		}
	}

	eng := engine.New(ctx, a.stage, a.cfg.EngineConfig(), nil, a.log)
	records := make(chan event.Record)
	readErr := make(chan error, 1)
	go func() {
		defer close(records)
		readErr <- feed(ctx, reader, records)
	}()

	runErr := eng.Run(ctx, records, sink)
	eng.Shutdown()
	// unblock the reader if Run stopped early
	for range records {
	}
	err = errors.Join(runErr, <-readErr, out.Close())
	if failOut != nil {
		err = errors.Join(err, failOut.Close())
	}
	if err != nil {
		return err
	}

	ok, failed := sink.Counts()
	a.log.Info().Int("successes", ok).Int("failures", failed).Msg("processing complete")
	fmt.Fprintf(cmd.ErrOrStderr(), "processed %d records: %d succeeded, %d failed\n", ok+failed, ok, failed)
	return nil
}

func feed(ctx context.Context, r codec.RecordReader, out chan<- event.Record) error {
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return nil
		}
	}
}
