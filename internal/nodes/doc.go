// Package nodes provides the built-in node implementations registered by the
// daemon:
//
//   - SecurityGate scans artifacts for secrets with gitleaks
//   - GitPersistence commits approved artifacts to a git repository
//   - Remote forwards a node call to an out-of-process worker over NATS
//
// Coder, reviewer, QA and refiner logic lives in external workers reached
// through Remote; ServeRemote is the worker side of that protocol.
package nodes
