// Package testing provides the conformance suite and benchmarks every db.KVDB
// engine runs.
//
// The suite drives time through a ManualClock, so expiration is tested
// deterministically without sleeping. Values are encoded and decoded with package
// schema exactly like the stores do.
//
// Example usage:
//
//	factory := func(clock schema.Clock) db.KVDB {
//		return NewMyDatabase(clock)
//	}
//
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing
