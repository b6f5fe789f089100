// Package extinit runs extension initializers exactly once per process.
//
// Extensions advertise a callable under the "init" name of an extension group.
// At startup the host calls InitAll: every matching entry point is resolved and
// called in discovery order. A broken extension produces a warning of the form
//
//	Extension 'pkgA:setup' failed to load due to 'NotFoundError(no module named "pkgA:setup")'.
//
// and the remaining extensions still run. Only a failing metadata query is
// returned to the caller.
//
// Lifecycle:
//
//	Uninitialized --InitAll--> Initializing --done--> Initialized
//	      ^                         |
//	      +---- discovery error ----+
//
// Initialized is never left. Calls made while Initializing, whether from
// another goroutine or from an extension re-entering InitAll, return at once.
//
// Typical host wiring:
//
//	func init() {
//		_ = loader.Register("myext:setup", setup)
//		_ = extinit.Registry.Register(entrypoint.DefaultGroup, entrypoint.InitName, "myext:setup")
//	}
//
//	func main() {
//		if _, err := extinit.InitAll(ctx); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// Hosts that need another provider or loader install it with Configure before
// the first InitAll, so re-entrant calls still reach the same Initializer.
package extinit
