package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"plancal/internal/classify"
	"plancal/internal/config"
	"plancal/internal/datetime"
	"plancal/internal/ics"
	appLog "plancal/internal/log"
	"plancal/internal/model"
	"plancal/internal/recur"
	"plancal/internal/web"
)

type offlineOptions struct {
	input string
	from  string
	to    string
}

func (o *offlineOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.input, "input", "-", "JSON array of objectives (- for stdin)")
	cmd.Flags().StringVar(&o.from, "from", "", "First day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&o.to, "to", "", "Last day of the window, inclusive (YYYY-MM-DD)")
}

// window resolves --from/--to into a closed UTC interval.
func (o *offlineOptions) window() (start, end time.Time, err error) {
	if start, err = datetime.DateOnlyToInstant(o.from, false); err != nil {
		return start, end, fmt.Errorf("--from: %w", err)
	}
	if end, err = datetime.DateOnlyToInstant(o.to, true); err != nil {
		return start, end, fmt.Errorf("--to: %w", err)
	}
	if end.Before(start) {
		return start, end, errors.New("--to is before --from")
	}
	return start, end, nil
}

func (o *offlineOptions) records(stdin io.Reader) ([]model.DomainRecord, error) {
	r := stdin
	if o.input != "-" {
		f, err := os.Open(o.input)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var objs []model.Objective
	if err := json.NewDecoder(r).Decode(&objs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", o.input, err)
	}
	records, errs := model.ParseObjectives(objs)
	for _, e := range errs {
		appLog.Warn("skipping invalid record", "err", e.Error())
	}
	return records, nil
}

func classifierFor(cfg *config.Config) classify.Classifier {
	return classify.Classifier{MinTimedDuration: cfg.Calendar.MinTimedDuration.Std()}
}

func newExpandCommand(root *rootOptions) *cobra.Command {
	opts := &offlineOptions{}
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the classified occurrences of a record file as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath, false)
			if err != nil {
				return err
			}
			start, end, err := opts.window()
			if err != nil {
				return err
			}
			records, err := opts.records(cmd.InOrStdin())
			if err != nil {
				return err
			}

			results, batch, _ := web.Classified(records, start, end, classifierFor(cfg), recur.Options{MaxOccurrences: cfg.Calendar.MaxOccurrences})
			if len(batch.Truncated) > 0 {
				appLog.Warn("occurrence cap reached", "ids", batch.Truncated)
			}
			out := make([]web.OccurrenceDTO, 0, len(results))
			for _, r := range results {
				out = append(out, web.NewOccurrenceDTO(r))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	opts.bind(cmd)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newExportCommand(root *rootOptions) *cobra.Command {
	opts := &offlineOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a record file as an iCalendar feed",
		Long: "Without --from/--to every record becomes one event, recurring ones with an RRULE.\n" +
			"With a window, every occurrence inside it becomes its own event.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath, false)
			if err != nil {
				return err
			}
			records, err := opts.records(cmd.InOrStdin())
			if err != nil {
				return err
			}
			icsOpts := ics.Options{Name: "plancal", Classifier: classifierFor(cfg)}

			if opts.from == "" && opts.to == "" {
				feed, errs := ics.ExportSeries(records, icsOpts)
				for _, e := range errs {
					appLog.Warn("skipping record in export", "err", e.Error())
				}
				_, err = io.WriteString(cmd.OutOrStdout(), feed)
				return err
			}

			start, end, err := opts.window()
			if err != nil {
				return err
			}
			results, _, _ := web.Classified(records, start, end, icsOpts.Classifier, recur.Options{MaxOccurrences: cfg.Calendar.MaxOccurrences})
			_, err = io.WriteString(cmd.OutOrStdout(), ics.ExportOccurrences(results, icsOpts))
			return err
		},
	}
	opts.bind(cmd)
	return cmd
}
