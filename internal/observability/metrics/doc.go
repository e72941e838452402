// Package metrics exposes process-level Prometheus collectors shared by the
// api and worker binaries.
//
// Request, dispatch and sweep metrics live next to the code that records
// them. This package holds the collectors that wrap shared resources, such
// as the database/sql connection pool.
//
// Example usage:
//
//	db, err := db.Open(ctx)
//	...
//	if err := metrics.RegisterDBStats(prometheus.DefaultRegisterer, db, "notifications"); err != nil {
//	    return err
//	}
package metrics
