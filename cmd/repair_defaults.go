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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/docstore/config"
	"github.com/cardinalhq/docstore/guard"
	"github.com/cardinalhq/docstore/registry"
	"github.com/cardinalhq/docstore/store"
	"github.com/cardinalhq/docstore/store/pgstore"
)

var (
	repairKind      string
	repairPartition string
)

var repairDefaultsCmd = &cobra.Command{
	Use:   "repair-defaults",
	Short: "Demote duplicate defaults in a partition",
	Long:  `Scan one partition of a singleton-default kind and demote every default document after the first. Safe to run on a healthy partition.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		drv, err := pgstore.Connect(ctx)
		if err != nil {
			return err
		}
		defer drv.Pool().Close()

		reg := registry.New(drv, cfg)
		defer reg.Close()

		g := reg.Profiles
		if store.Kind(repairKind) != store.KindStorageProfile {
			g = guard.New(reg.Store, store.Kind(repairKind))
		}
		demoted, err := g.RepairDuplicateDefaults(ctx, repairPartition)
		if err != nil {
			return fmt.Errorf("repair %s in %s: %w", repairKind, repairPartition, err)
		}
		slog.Info("repair complete",
			slog.String("kind", repairKind),
			slog.String("partition", repairPartition),
			slog.Int("demoted", demoted))
		return nil
	},
}

func init() {
	repairDefaultsCmd.Flags().StringVar(&repairKind, "kind", string(store.KindStorageProfile), "document kind to repair")
	repairDefaultsCmd.Flags().StringVar(&repairPartition, "partition", "", "partition key to repair")
	_ = repairDefaultsCmd.MarkFlagRequired("partition")
	rootCmd.AddCommand(repairDefaultsCmd)
}
