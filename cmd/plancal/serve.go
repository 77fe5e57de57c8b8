package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"plancal/internal/api"
	"plancal/internal/datetime"
	appLog "plancal/internal/log"
	"plancal/internal/metrics"
	"plancal/internal/refresh"
	"plancal/internal/web"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve occurrences, Gantt rows and an iCalendar feed over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(root.configPath, true)
			if err != nil {
				return err
			}
			// --listen overrides the config file.
			if listen != "" {
				conf.Listen = listen
			}

			appLog.Info("plancal starting", "version", version)
			appLog.Info("effective config",
				"listen", conf.Listen,
				"timezone", conf.Timezone,
				"week_start", conf.WeekStart,
				"refresh", conf.RefreshCron,
				"api", conf.API.BaseURL,
				"cache_dir", conf.CacheDir,
				"min_timed_duration", conf.Calendar.MinTimedDuration.String(),
				"max_occurrences", conf.Calendar.MaxOccurrences,
			)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.MustNewMetrics(reg)

			client := api.New(api.Options{
				BaseURL:  conf.API.BaseURL,
				Token:    conf.API.Token,
				Timeout:  conf.API.Timeout.Std(),
				CacheDir: conf.CacheDir,
			})
			store := refresh.NewStore()
			refresher := refresh.New(client, store, datetime.SystemClock{}, m)

			ctx := cmd.Context()
			if err := refresher.Start(ctx, conf.RefreshCron); err != nil {
				return err
			}
			defer refresher.Stop()

			srv, err := web.NewServer(web.Deps{
				Config:    conf,
				Store:     store,
				Refresher: refresher,
				Writer:    client,
				Metrics:   m,
				Gatherer:  reg,
			})
			if err != nil {
				return err
			}
			err = srv.ListenAndServe(ctx)
			appLog.Info("plancal exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
