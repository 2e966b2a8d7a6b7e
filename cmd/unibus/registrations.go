package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/registry"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

var registrationsCmd = &cobra.Command{
	Use:   "registrations",
	Short: "Print the persisted registration mapping",
	Long: `Print the controller identity, the per-type sensor counts and every
registered sensor with the state slots it writes, as stored in the database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printRegistrations(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(registrationsCmd)
}

func printRegistrations(ctx context.Context, w io.Writer) error {
	cfg, err := loadToolConfig()
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := registry.NewSQLiteRepository(db.DB).Load(ctx)
	if errors.Is(err, registry.ErrPersistenceMiss) {
		fmt.Fprintln(w, "no registrations yet: the controller has not been started against this database")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading registrations: %w", err)
	}

	fmt.Fprintln(w, formatMapping(m))
	return nil
}

// loadToolConfig loads the configuration for the database subcommands. When
// the file does not exist the built-in defaults and UNIBUS_* variables are
// used, so UNIBUS_DATABASE_PATH alone is enough.
func loadToolConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// formatMapping renders a registration mapping.
func formatMapping(m registry.Mapping) string {
	var s strings.Builder

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label))
		s.WriteString(valueStyle.Render(value))
		s.WriteString("\n")
	}

	s.WriteString(titleStyle.Render("Controller"))
	s.WriteString("\n")
	row("uuid", m.Identity.UUID.String())
	row("bus id", fmt.Sprintf("0x%02X", m.Identity.BusID))
	row("next rf id", fmt.Sprintf("%d", m.Identity.NextRFID))

	s.WriteString("\n")
	s.WriteString(titleStyle.Render("Counts"))
	s.WriteString("\n")
	for _, t := range scratchpad.SensorTypes {
		row(t.String(), fmt.Sprintf("%d", m.Counts[t]))
	}

	sensors := make([]registry.Sensor, 0, len(m.States))
	for sensor := range m.States {
		sensors = append(sensors, sensor)
	}
	sort.Slice(sensors, func(i, j int) bool {
		if sensors[i].Type != sensors[j].Type {
			return sensors[i].Type < sensors[j].Type
		}
		return sensors[i].Index < sensors[j].Index
	})

	s.WriteString("\n")
	s.WriteString(titleStyle.Render(fmt.Sprintf("Sensors (%d)", len(sensors))))
	s.WriteString("\n")
	for _, sensor := range sensors {
		keys := m.States[sensor].Keys()
		slots := make([]string, len(keys))
		for i, k := range keys {
			slots[i] = k.String()
		}
		row(fmt.Sprintf("%s #%d", sensor.Type, sensor.Index), strings.Join(slots, ", "))
	}

	return boxStyle.Render(strings.TrimRight(s.String(), "\n"))
}
