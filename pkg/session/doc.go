/*
Package session implements the two halves of one PDU exchange: RunClient,
driven by an agent, and RunServer, driven by a master against each
accepted connection.

# Client sequence

	HELLO → (HELLO | ERROR)
	[GET_CERT → SEND_CERT]
	FACTS → POLICY
	{FILE(sha1) → DATA...DATA(0)}*
	REPORT → BYE
	BYE

RunClient walks a compiled Policy in its topologically sorted order,
Stat-ing and Fixup-ing each resource against the caller's resource.Env. A
file resource whose content differs and whose bytes aren't already local
triggers the FILE/DATA round trip before Fixup runs. A resource that
changes fans a change notification out to its dependents via
policy.Notify, exactly as a single-process compile-and-fix run would.

# Server sequence

RunServer is purely reactive: each iteration reads one frame and replies
according to its op, exactly per the table above. GET_CERT is answered
independent of FACTS/REPORT ordering (a renewing agent may ask for a
fresh certificate at any point before BYE); any op the state machine
isn't expecting elicits ERROR(505) and ends the session, matching the
protocol's fatal-on-violation contract. An unauthenticated HELLO gets
ERROR(401) instead of a HELLO reply.

The master's caller supplies PolicyFor (typically pkg/manifest.Compile
over its loaded manifest), a FileStore backing FILE requests (pkg/master
passes its security.FileCache), and SignCSR (pkg/master passes a closure
over pkg/security's CertAuthority.SignCSR with the host as subject).
*/
package session
