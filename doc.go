// Package poolbench measures what a bounded, blocking connection pool
// buys over opening a connection per operation.
//
// The pool under test lives in pkg/pool: a fixed-capacity, generic
// resource pool that constructs all resources eagerly, blocks acquirers
// when empty, and releases its resources exactly once on close. The
// benchmark in internal/bench runs a three-phase workload (insert,
// query, update against a users table) through three connection
// strategies and compares them:
//
//   - pooled: connections come from pkg/pool
//   - direct: a fresh connection is opened and closed per operation
//   - stdlib: all workers share database/sql's built-in pool
//
// # Quick Start
//
// Use the pool directly:
//
//	p, err := pool.New(pool.Config[*sql.Conn]{
//	    Name:     "db",
//	    Capacity: 20,
//	    Factory:  openConn,
//	    Closer:   closeConn,
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Close(context.Background())
//
//	h, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer p.Release(h)
//	use(h.Value())
//
// Or run the benchmark from the command line:
//
//	poolbench compare --backend postgres --dsn "$DATABASE_URL" -n 10000
//
// Backends are pluggable through the bench.Connector interface; memory,
// PostgreSQL (pgx) and MySQL (database/sql) backends ship in the box.
package poolbench
