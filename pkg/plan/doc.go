// Package plan provides the typed migration plan model and the plan
// manager that loads, orders, and queries plan files.
//
// A migration plan is a declarative unit of change identified by a
// signature (version, name). Schema and data plans are versioned and form
// a single dependency chain rooted at the initial plan; repeatable plans
// sit outside the chain and are re-executed whenever their checksum
// diverges from the last applied one.
//
// The manager sorts versioned plans by walking the dependency graph
// (production behavior) or by ascending integer version (test behavior);
// the algorithm is a constructor parameter, not a process global.
package plan
