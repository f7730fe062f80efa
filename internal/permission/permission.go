// Package permission evaluates read/write/update/delete grants of an object
// carrying a rights triple against a subject.
//
// Every predicate is the OR of four independent clauses: superuser, owning
// user with the user right, member of the owning group with the group right,
// and the "other" right. Ownership compares ids; an unset owner never matches.
package permission

// Rights is one column of grants.
type Rights struct {
	CanRead   bool `json:"can_read"`
	CanWrite  bool `json:"can_write"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
}

// All grants every operation.
func All() Rights {
	return Rights{CanRead: true, CanWrite: true, CanUpdate: true, CanDelete: true}
}

// Triple is the ownership + rights block carried by pipelines and documents.
type Triple struct {
	User        *uint64 `json:"user"`
	Group       *uint64 `json:"group"`
	UserRights  Rights  `json:"user_rights"`
	GroupRights Rights  `json:"group_rights"`
	OtherRights Rights  `json:"other_rights"`
}

// IsPublic reports whether neither a user nor a group owns the object.
func (t Triple) IsPublic() bool {
	return t.User == nil && t.Group == nil
}

// Subject is the acting user.
type Subject struct {
	ID          uint64
	Username    string
	IsSuperuser bool
	Groups      []uint64
}

func (s Subject) InGroup(id uint64) bool {
	for _, g := range s.Groups {
		if g == id {
			return true
		}
	}
	return false
}

// Op selects one right out of a Rights value.
type Op int

const (
	Read Op = iota
	Write
	Update
	Delete
)

func (op Op) String() string {
	switch op {
	case Read:
		return "read"
	case Write:
		return "write"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return "unknown"
}

func (r Rights) allows(op Op) bool {
	switch op {
	case Read:
		return r.CanRead
	case Write:
		return r.CanWrite
	case Update:
		return r.CanUpdate
	case Delete:
		return r.CanDelete
	}
	return false
}

// Can evaluates op for subj on an object with rights t.
func Can(op Op, t Triple, subj Subject) bool {
	if subj.IsSuperuser {
		return true
	}
	userClause := t.User != nil && *t.User == subj.ID && t.UserRights.allows(op)
	groupClause := t.Group != nil && subj.InGroup(*t.Group) && t.GroupRights.allows(op)
	otherClause := t.OtherRights.allows(op)
	return userClause || groupClause || otherClause
}

func CanRead(t Triple, subj Subject) bool   { return Can(Read, t, subj) }
func CanWrite(t Triple, subj Subject) bool  { return Can(Write, t, subj) }
func CanUpdate(t Triple, subj Subject) bool { return Can(Update, t, subj) }
func CanDelete(t Triple, subj Subject) bool { return Can(Delete, t, subj) }

// Visible is the registry visibility predicate for owned objects: public, owned
// by subj, or owned by one of subj's groups. Rights flags play no part in it.
func Visible(t Triple, subj Subject) bool {
	if t.IsPublic() {
		return true
	}
	if t.User != nil && *t.User == subj.ID {
		return true
	}
	return t.Group != nil && subj.InGroup(*t.Group)
}
