package app

import (
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/icpmesh/meshwatch/cmd/meshwatch/app/options"
	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/mesh/status"
	"github.com/icpmesh/meshwatch/internal/persist"
)

// newNodesCommand lists the nodes recorded in the snapshot file. It works
// entirely offline so operators can inspect state while the daemon is down.
func newNodesCommand(opts *options.MeshwatchOptions) *cobra.Command {
	var snapshotPath string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List known mesh nodes from the snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := persist.NewSnapshotStore(snapshotPath).Load()
			if err != nil {
				return fmt.Errorf("failed to load snapshot %s: %w", snapshotPath, err)
			}
			if len(nodes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no nodes in snapshot")
				return nil
			}

			th := opts.EngineOptions.Thresholds
			now := time.Now()

			table := uitable.New()
			table.MaxColWidth = 40
			table.AddRow("ID", "NAME", "LAST HEARD", "ONLINE", "HEALTH", "BATTERY", "VOLTAGE", "TEMP")
			for _, n := range nodes {
				ds := status.Derive(n, now, th)
				table.AddRow(
					n.ID,
					nodeName(n),
					lastHeard(n, now),
					formatBool(ds.Online),
					ds.Health.String(),
					formatReading(n, mesh.FieldBatteryLevel, "%.0f%%"),
					formatReading(n, mesh.FieldVoltage, "%.2fV"),
					formatReading(n, mesh.FieldTemperature, "%.1fC"),
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)

			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "snapshot", opts.PersistOptions.SnapshotPath, "Path of the node snapshot file.")

	return cmd
}

func nodeName(n mesh.NodeState) string {
	if n.LongName != "" {
		return n.LongName
	}
	if n.ShortName != "" {
		return n.ShortName
	}
	return "-"
}

func lastHeard(n mesh.NodeState, now time.Time) string {
	if n.LastHeard == 0 {
		return "never"
	}
	age := now.Sub(time.Unix(n.LastHeard, 0)).Truncate(time.Second)
	if age < 0 {
		age = 0
	}
	return fmt.Sprintf("%s ago", age)
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatReading(n mesh.NodeState, f mesh.Field, format string) string {
	r, ok := n.Reading(f)
	if !ok {
		return "-"
	}
	return fmt.Sprintf(format, r.Value)
}
