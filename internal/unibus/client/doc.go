// Package client interprets UniBus records per module category.
//
// A Client never touches the bus. Register and Update read the record the
// line manager just fetched, mirror its payload into the state store, and
// edit the record in place (assigned indices, display data, slot statuses).
// The line manager writes the record back when it changed.
//
// Factory.Get resolves the client for a record's category once per
// transaction; unknown or disabled categories get the Dummy client.
package client
