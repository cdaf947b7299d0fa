// Package agent implements cwa, the host-side half of the policy
// protocol: gather facts, dial the master, drive one session, enforce
// whatever policy comes back against the real filesystem and user
// databases, and record what happened.
//
// Of the seven resource.Env interfaces, FileIO, UserDB, SysctlIO, and
// Exec get real, OS-backed implementations here (hostenv.go).
// ServiceManager, PackageManager, and Augeas get in-memory debug
// stand-ins (debugenv.go) mirroring the original project's own
// debug/service-manager.c and debug/package-manager.c test harnesses:
// no concrete init-system, package-manager, or Augeas binding is
// shipped, matching that non-goal.
package agent
