// Package api implements the read-only HTTP API and WebSocket stream for
// the UniBus controller.
//
// Routes (all under /api/v1):
//   - GET /health: liveness, version and controller bus id
//   - GET /registrations: registered sensors and the slots they write
//   - GET /states: every state slot and display/execution module presence
//   - GET /states/history?module=&category=&index=: recorded slot changes
//   - GET /lines: bus line status
//   - GET /actuators: actuator table and window thresholds
//   - GET /ws: WebSocket; subscribe to "state.changed" for slot updates,
//     optionally filtered by module and preceded by a "state.snapshot"
//
// Actuators are driven over MQTT, not HTTP.
//
// The server follows the same lifecycle as the other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
