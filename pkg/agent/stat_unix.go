package agent

import "syscall"

// statOwnership extracts uid/gid from a os.FileInfo's underlying
// syscall.Stat_t. Clockwork's agent only ever runs against a real Linux
// host (the domain this resource model enforces policy over), so there
// is no portable fallback to maintain here.
func statOwnership(info interface {
	Sys() interface{}
}) (uid, gid int) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return int(st.Uid), int(st.Gid)
}
