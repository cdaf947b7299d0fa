package resource

import "fmt"

// User attribute bits.
const (
	UserUID uint32 = 1 << iota
	UserGID
	UserGecos
	UserHome
	UserShell
	UserPassword
	UserPresent
)

var userFixupOrder = []uint32{UserPresent, UserUID, UserGID, UserGecos, UserHome, UserShell, UserPassword}

// User is the user account resource kind, operating against the injected
// UserDB (passwd/shadow).
type User struct {
	Name string

	Present      bool
	presentSet   bool
	UID          int
	uidSet       bool
	GID          int
	gidSet       bool
	Gecos        string
	Home         string
	Shell        string
	PasswordHash string

	enforced  uint32
	different uint32

	live *PasswdEntry
}

func (u *User) Set(attr, value string) error {
	switch attr {
	case "uid":
		if _, err := fmt.Sscanf(value, "%d", &u.UID); err != nil {
			return fmt.Errorf("resource: user: invalid uid %q: %w", value, err)
		}
		u.uidSet = true
		u.enforced |= UserUID
	case "gid":
		if _, err := fmt.Sscanf(value, "%d", &u.GID); err != nil {
			return fmt.Errorf("resource: user: invalid gid %q: %w", value, err)
		}
		u.gidSet = true
		u.enforced |= UserGID
	case "gecos":
		u.Gecos = value
		u.enforced |= UserGecos
	case "home":
		u.Home = value
		u.enforced |= UserHome
	case "shell":
		u.Shell = value
		u.enforced |= UserShell
	case "password":
		u.PasswordHash = value
		u.enforced |= UserPassword
	case "present":
		u.Present = value == "1" || value == "true"
		u.presentSet = true
		u.enforced |= UserPresent
	default:
		return &ErrUnknownAttribute{Kind: KindUser, Attr: attr}
	}
	return nil
}

func (u *User) Match(attr, value string) bool {
	switch attr {
	case "home":
		return u.Home == value
	case "shell":
		return u.Shell == value
	default:
		return false
	}
}

func (u *User) Norm() error {
	if !u.presentSet {
		u.Present = true
	}
	return nil
}

func (u *User) Stat(env *Env) error {
	entry, found, err := env.Users.LookupUser(u.Name)
	if err != nil {
		return fmt.Errorf("resource: user %s: lookup: %w", u.Name, err)
	}
	u.live = entry

	u.different = 0
	if u.enforced&UserPresent != 0 && found != u.Present {
		u.different |= UserPresent
	}
	if !u.Present {
		u.different &= UserPresent
		return nil
	}
	if !found {
		u.live = &PasswdEntry{Name: u.Name}
		u.different = u.enforced
		return nil
	}
	if u.enforced&UserUID != 0 && entry.UID != u.UID {
		u.different |= UserUID
	}
	if u.enforced&UserGID != 0 && entry.GID != u.GID {
		u.different |= UserGID
	}
	if u.enforced&UserGecos != 0 && entry.Gecos != u.Gecos {
		u.different |= UserGecos
	}
	if u.enforced&UserHome != 0 && entry.Home != u.Home {
		u.different |= UserHome
	}
	if u.enforced&UserShell != 0 && entry.Shell != u.Shell {
		u.different |= UserShell
	}
	if u.enforced&UserPassword != 0 {
		shadow, found, err := env.Users.LookupShadow(u.Name)
		if err == nil && (!found || shadow.PasswordHash != u.PasswordHash) {
			u.different |= UserPassword
		}
	}
	return nil
}

func (u *User) Fixup(dryrun bool, env *Env) (*FixupResult, error) {
	res := &FixupResult{Compliant: u.different == 0}
	if res.Compliant {
		return res, nil
	}
	fixed := true
	for _, bit := range userFixupOrder {
		if u.different&bit == 0 {
			continue
		}
		ok, summary := u.fixupOne(bit, dryrun, env)
		res.Actions = append(res.Actions, Action{Summary: summary, Ok: ok})
		if !ok {
			fixed = false
		}
		if bit == UserPresent && !u.Present {
			break
		}
	}
	res.Fixed = fixed
	return res, nil
}

func (u *User) fixupOne(bit uint32, dryrun bool, env *Env) (bool, string) {
	entry := u.live
	if entry == nil {
		entry = &PasswdEntry{Name: u.Name}
	}
	switch bit {
	case UserPresent:
		if !u.Present {
			summary := fmt.Sprintf("delete user %s", u.Name)
			if dryrun {
				return true, "would " + summary
			}
			return env.Users.DeleteUser(u.Name) == nil, summary
		}
		summary := fmt.Sprintf("create user %s", u.Name)
		if dryrun {
			return true, "would " + summary
		}
		entry.Name = u.Name
		entry.UID, entry.GID, entry.Gecos, entry.Home, entry.Shell = u.UID, u.GID, u.Gecos, u.Home, u.Shell
		return env.Users.PutUser(entry) == nil, summary
	case UserUID:
		summary := fmt.Sprintf("set uid of %s to %d", u.Name, u.UID)
		entry.UID = u.UID
		return fixupUser(dryrun, env, entry, summary)
	case UserGID:
		summary := fmt.Sprintf("set gid of %s to %d", u.Name, u.GID)
		entry.GID = u.GID
		return fixupUser(dryrun, env, entry, summary)
	case UserGecos:
		summary := fmt.Sprintf("set gecos of %s", u.Name)
		entry.Gecos = u.Gecos
		return fixupUser(dryrun, env, entry, summary)
	case UserHome:
		summary := fmt.Sprintf("set home of %s to %s", u.Name, u.Home)
		entry.Home = u.Home
		return fixupUser(dryrun, env, entry, summary)
	case UserShell:
		summary := fmt.Sprintf("set shell of %s to %s", u.Name, u.Shell)
		entry.Shell = u.Shell
		return fixupUser(dryrun, env, entry, summary)
	case UserPassword:
		summary := fmt.Sprintf("set password hash for %s", u.Name)
		if dryrun {
			return true, "would " + summary
		}
		return env.Users.PutShadow(&ShadowEntry{Name: u.Name, PasswordHash: u.PasswordHash}) == nil, summary
	default:
		return false, "unknown attribute"
	}
}

func fixupUser(dryrun bool, env *Env, entry *PasswdEntry, summary string) (bool, string) {
	if dryrun {
		return true, "would " + summary
	}
	return env.Users.PutUser(entry) == nil, summary
}

func (u *User) Enforced() uint32  { return u.enforced }
func (u *User) Different() uint32 { return u.different }

func (u *User) PackedValues() []string {
	return []string{
		fmt.Sprintf("%d", u.UID), fmt.Sprintf("%d", u.GID), u.Gecos, u.Home,
		u.Shell, u.PasswordHash, boolStr(u.Present),
	}
}

func unpackUser(id string, enforced uint32, attrs []string) (Impl, error) {
	u := &User{Name: id, enforced: enforced}
	if _, err := fmt.Sscanf(attrs[0], "%d", &u.UID); err != nil {
		return nil, fmt.Errorf("user: uid: %w", err)
	}
	if _, err := fmt.Sscanf(attrs[1], "%d", &u.GID); err != nil {
		return nil, fmt.Errorf("user: gid: %w", err)
	}
	u.Gecos, u.Home, u.Shell, u.PasswordHash = attrs[2], attrs[3], attrs[4], attrs[5]
	u.Present = parseBoolAttr(attrs[6])
	u.presentSet = enforced&UserPresent != 0
	u.uidSet = enforced&UserUID != 0
	u.gidSet = enforced&UserGID != 0
	return u, nil
}
