package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/scratchpad"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a raw scratchpad record",
	Long: `Decode a 30-byte scratchpad record given as hex and print its head, payload
and checksum. Spaces, colons and dashes between bytes are ignored.

Example:
  unibus decode 01FF03A507...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(20)
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func runDecode(cmd *cobra.Command, args []string) error {
	raw, err := parseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}

	rec, err := scratchpad.Decode(raw)
	if err != nil && !errors.Is(err, scratchpad.ErrChecksum) {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), formatRecord(rec, err))
	return nil
}

// parseHex accepts hex with optional 0x prefix and byte separators.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "\n", "", "\t", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// formatRecord renders a decoded record. crcErr is the error from
// scratchpad.Decode, if any.
func formatRecord(rec scratchpad.Record, crcErr error) string {
	var s strings.Builder

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label))
		s.WriteString(valueStyle.Render(value))
		s.WriteString("\n")
	}

	s.WriteString(titleStyle.Render("Head"))
	s.WriteString("\n")
	row("category", rec.Head.PacketType.String())
	if rec.Head.PacketType == scratchpad.CategorySensors {
		row("hardware", scratchpad.ModuleSensorType(rec.Head.PacketSubtype).String())
	} else {
		row("subtype", fmt.Sprintf("0x%02X", rec.Head.PacketSubtype))
	}
	row("config", fmt.Sprintf("0x%02X", rec.Head.Config))
	row("controller id", byteOrUnset(rec.Head.ControllerID))
	row("rf id", byteOrUnset(rec.Head.RFID))

	s.WriteString("\n")
	s.WriteString(titleStyle.Render("Payload"))
	s.WriteString("\n")
	switch rec.Category() {
	case scratchpad.CategorySensors:
		formatSensors(scratchpad.DecodeSensors(rec.Data), row)
	case scratchpad.CategoryDisplay:
		formatDisplay(scratchpad.DecodeDisplay(rec.Data), row)
	case scratchpad.CategoryExecution:
		formatExecution(scratchpad.DecodeExecution(rec.Data), row)
	default:
		row("data", strings.ToUpper(hex.EncodeToString(rec.Data[:])))
	}

	s.WriteString("\n")
	if crcErr != nil {
		s.WriteString(errorStyle.Render("CRC mismatch: " + crcErr.Error()))
	} else {
		row("crc", fmt.Sprintf("0x%02X ok", rec.CRC))
	}

	return boxStyle.Render(strings.TrimRight(s.String(), "\n"))
}

func formatSensors(p scratchpad.SensorsPayload, row func(label, value string)) {
	row("battery", fmt.Sprintf("%d", p.BatteryStatus))
	row("query interval", p.QueryPeriod().String())
	for i, e := range p.Sensors {
		label := fmt.Sprintf("sensor %d", i)
		if !e.Present() {
			row(label, "-")
			continue
		}
		index := "unregistered"
		if e.Registered() {
			index = fmt.Sprintf("#%d", e.Index)
		}
		primary, secondary := e.Decode()
		value := fmt.Sprintf("%s %s = %s", e.Type, index, formatReading(primary))
		if e.Type == scratchpad.SensorHumidity {
			value += ", temperature = " + formatReading(secondary)
		}
		row(label, value)
	}
}

func formatDisplay(p scratchpad.DisplayPayload, row func(label, value string)) {
	row("controller status", fmt.Sprintf("0x%02X", p.ControllerStatus))
	row("display status", fmt.Sprintf("0x%02X 0x%02X", p.Status1, p.Status2))
	row("open / close", fmt.Sprintf("%d / %d", p.OpenTemperature, p.CloseTemperature))
	row("readings", fmt.Sprintf("%d", p.DataCount))
	for i, r := range p.Readings {
		if i >= int(p.DataCount) || !r.SensorType.Known() {
			continue
		}
		row(fmt.Sprintf("reading %d", i), fmt.Sprintf("%s = %s", r.SensorType, formatReading(scratchpad.DecodeTenths(r.Data))))
	}
}

func formatExecution(p scratchpad.ExecutionPayload, row func(label, value string)) {
	for i, slot := range p.Slots {
		if slot.Type == scratchpad.SlotEmpty {
			continue
		}
		level := "LOW"
		if slot.Status == scratchpad.SlotHigh {
			level = "HIGH"
		}
		row(fmt.Sprintf("slot %d", i), fmt.Sprintf("%s linked 0x%02X %s", slot.Type, slot.LinkedData, level))
	}
}

func formatReading(r scratchpad.Reading) string {
	if !r.OK {
		return "no data"
	}
	return fmt.Sprintf("%.1f", r.Value)
}

func byteOrUnset(b byte) string {
	if b == scratchpad.Unused {
		return "unset"
	}
	return fmt.Sprintf("0x%02X", b)
}
