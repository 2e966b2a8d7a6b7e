// Package line drives UniBus lines.
//
// A Permanent line polls one module wired to a dedicated pin: start
// measurement, wait, read, then route the record through its client. A
// Registration line onboards modules attached transiently to a shared pin
// and walks them through Unregistered, Identified, Registered and Active.
//
// Lines are driven from one loop: each cycle the caller passes the elapsed
// time into Update. Every line has exactly one owner and no lock; the
// transaction timeout bounds each bus operation.
package line
