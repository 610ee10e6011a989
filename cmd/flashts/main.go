// Command flashts drives a time-series database directory from the shell:
// table bookkeeping, point writes and reads, range scans and aggregations.
package main

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Priyanshu23/FlashTSGo/db"
	"github.com/Priyanshu23/FlashTSGo/series"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:           "flashts",
		Short:         "flashts is a small time-series database",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "flashts-data", "database directory")

	openDB := func() (*db.Database, error) { return db.OpenDatabase(dbPath) }

	root.AddCommand(
		newCreateTableCmd(openDB),
		newDropTableCmd(openDB),
		newTablesCmd(openDB),
		newPutCmd(openDB),
		newGetCmd(openDB),
		newRemoveCmd(openDB),
		newRangeCmd(openDB),
		newAggCmd(openDB),
	)
	return root
}

type opener func() (*db.Database, error)

func newCreateTableCmd(open opener) *cobra.Command {
	var tagColumns []string
	cmd := &cobra.Command{
		Use:   "create-table TABLE",
		Short: "Create a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()

			table, err := d.CreateTable(args[0])
			if err != nil {
				return err
			}
			if len(tagColumns) > 0 {
				if err := table.SetTagColumns(tagColumns...); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created table %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tagColumns, "tags", nil, "tag columns to declare")
	return cmd
}

func newDropTableCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-table TABLE",
		Short: "Drop a table and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.DropTable(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped table %q\n", args[0])
			return nil
		},
	}
}

func newTablesCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()

			for _, name := range d.Tables() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newPutCmd(open opener) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "put TABLE METRIC TIMESTAMP VALUE",
		Short: "Write one datapoint",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			timestamp, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad timestamp %q: %w", args[2], err)
			}
			value, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("bad value %q: %w", args[3], err)
			}
			tagMap, err := parseTags(tags)
			if err != nil {
				return err
			}

			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()

			table, err := d.GetTable(args[0])
			if err != nil {
				return err
			}
			return table.Put(timestamp, args[1], tagMap, value)
		},
	}
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as name=value (repeatable)")
	return cmd
}

func newGetCmd(open opener) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "get TABLE METRIC TIMESTAMP",
		Short: "Read one datapoint",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			timestamp, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad timestamp %q: %w", args[2], err)
			}
			tagMap, err := parseTags(tags)
			if err != nil {
				return err
			}

			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()

			table, err := d.GetTable(args[0])
			if err != nil {
				return err
			}
			value, err := table.Get(timestamp, args[1], tagMap)
			if err != nil {
				return err
			}
			if value == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "null")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), series.FormatValue(*value))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as name=value (repeatable)")
	return cmd
}

func newRemoveCmd(open opener) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "remove TABLE METRIC TIMESTAMP",
		Short: "Delete one datapoint",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			timestamp, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad timestamp %q: %w", args[2], err)
			}
			tagMap, err := parseTags(tags)
			if err != nil {
				return err
			}

			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()

			table, err := d.GetTable(args[0])
			if err != nil {
				return err
			}
			return table.Remove(timestamp, args[1], tagMap)
		},
	}
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as name=value (repeatable)")
	return cmd
}

func newRangeCmd(open opener) *cobra.Command {
	var metric string
	cmd := &cobra.Command{
		Use:   "range TABLE FROM TO",
		Short: "Scan datapoints over [FROM, TO)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("bad timestamp %q: %w", args[1], err)
			}
			to, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad timestamp %q: %w", args[2], err)
			}

			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()

			table, err := d.GetTable(args[0])
			if err != nil {
				return err
			}

			builder := table.Query().Range(
				series.NewKey(from, series.MinMetric, nil),
				series.NewKey(to, series.MinMetric, nil),
			)
			if metric != "" {
				builder = builder.WhereMetricIs(metric)
			}
			entries, err := builder.Execute()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintln(cmd.OutOrStdout(), series.FormatEntry(e))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metric, "metric", "", "only this metric")
	return cmd
}

func newAggCmd(open opener) *cobra.Command {
	var metric string
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "agg TABLE (count|sum|avg|min|max)",
		Short: "Aggregate over a range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open()
			if err != nil {
				return err
			}
			defer d.Close()

			table, err := d.GetTable(args[0])
			if err != nil {
				return err
			}

			builder := table.Query().Range(
				series.NewKey(from, series.MinMetric, nil),
				series.NewKey(to, series.MinMetric, nil),
			)
			if metric != "" {
				builder = builder.WhereMetricIs(metric)
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(args[1]) {
			case "count":
				n, err := builder.Count()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, n)
			case "sum":
				v, err := builder.Sum()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, series.FormatValue(v))
			case "avg":
				v, err := builder.Avg()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, series.FormatValue(v))
			case "min":
				v, err := builder.Min()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, series.FormatValue(v))
			case "max":
				v, err := builder.Max()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, series.FormatValue(v))
			default:
				return fmt.Errorf("unknown aggregation %q", args[1])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metric, "metric", "", "only this metric")
	cmd.Flags().Uint64Var(&from, "from", 0, "range start timestamp")
	cmd.Flags().Uint64Var(&to, "to", math.MaxUint64, "range end timestamp (exclusive)")
	return cmd
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad tag %q: want name=value", pair)
		}
		tags[name] = value
	}
	return tags, nil
}
