// Package onewire performs scratchpad transactions with UniBus modules.
//
// Every transaction has the same shape on the wire:
//
//	reset/presence -> SKIP ROM (0xCC) -> command -> [payload]
//
// with the commands
//
//	0x44  start measurement (no payload, settle MeasureMinTime before reading)
//	0xBE  read scratchpad   (module sends 30 bytes)
//	0x4E  write scratchpad  (controller sends 30 bytes)
//	0x25  save scratchpad to the module's EEPROM
//
// The physical layer is abstracted behind Line. Two implementations ship
// with the package:
//
//   - UARTLine drives a real bus through a serial adapter using the
//     standard 1-Wire-over-UART encoding (one UART byte per bus bit).
//   - Simulator models a module in memory for tests and bench setups.
//
// Scratchpad never retries. A failed transaction is reported once and the
// owning line manager decides when to try again.
package onewire
