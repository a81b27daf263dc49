// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/docstore/config"
	"github.com/cardinalhq/docstore/registry"
	"github.com/cardinalhq/docstore/schedule"
	"github.com/cardinalhq/docstore/store/pgstore"
)

var (
	duePartition string
	dueWindow    int
)

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "List schedules due to run right now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("window") {
			dueWindow = cfg.Matcher.WindowMinutes
		}

		drv, err := pgstore.Connect(ctx)
		if err != nil {
			return err
		}
		defer drv.Pool().Close()

		reg := registry.New(drv, cfg)
		defer reg.Close()

		now := schedule.InstantOf(time.Now())
		due, err := reg.Matcher.FindDue(ctx, duePartition, now, dueWindow)
		if err != nil {
			return err
		}
		for _, s := range due {
			fmt.Printf("%s\t%s\t%s %02d:%02d\n", s.ID, s.Name, s.DaysOfWeek, s.UTCHour, s.UTCMinute)
		}
		return nil
	},
}

func init() {
	dueCmd.Flags().StringVar(&duePartition, "partition", "", "partition key to scan")
	dueCmd.Flags().IntVar(&dueWindow, "window", 0, "catch-up window in minutes (defaults to the configured matcher window)")
	_ = dueCmd.MarkFlagRequired("partition")
	rootCmd.AddCommand(dueCmd)
}
