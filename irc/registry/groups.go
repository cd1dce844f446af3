// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// account metadata naming a group the account was invited to
	GroupInviteMetadata = "private:groupinvite"
	// group metadata overriding the configured join flags
	JoinFlagsMetadata = "joinflags"

	founderNamesLimit = 384
)

// RegisterGroup creates a group with `founder` as its first member.
func (reg *Registry) RegisterGroup(name string, founder *Account) (group *Group, err error) {
	if reg.config.MaxGroups != 0 && GroupCount(founder, GAFounder) >= reg.config.MaxGroups {
		return nil, ErrTooManyGroups
	}
	group = NewGroup(reg.newID(), name)
	group.Registered = reg.now().UTC()
	if err = reg.AddGroup(group); err != nil {
		return nil, err
	}
	reg.addGroupacs(group, founder, GAAll|GAFounder, group.Registered)
	reg.Hooks.GroupRegister.Run(&GroupEvent{Group: group, Founder: founder})
	reg.logger.Info("groups", "Registered group", group.name, "to", founder.name)
	return group, nil
}

// AddGroup indexes a group built by the database loader.
func (reg *Registry) AddGroup(group *Group) (err error) {
	cfname, err := CasefoldGroup(group.name)
	if err != nil {
		return err
	}
	if group.id == "" || reg.byID[group.id] != nil {
		return ErrGroupExists
	}
	skeleton, err := reg.checkName(group.name, cfname)
	if err != nil {
		return err
	}
	group.nameCasefolded = cfname
	group.skeleton = skeleton
	reg.indexEntity(group)
	return nil
}

// RenameGroup changes a group's name; its ID and access lists are kept.
func (reg *Registry) RenameGroup(group *Group, name string) error {
	cfname, err := CasefoldGroup(name)
	if err != nil {
		return err
	}
	if cfname == group.nameCasefolded {
		// case change only
		group.name = name
		return nil
	}
	reg.unindexEntity(group)
	skeleton, err := reg.checkName(name, cfname)
	if err != nil {
		reg.indexEntity(group)
		return err
	}
	oldName := group.name
	group.name = name
	group.nameCasefolded = cfname
	group.skeleton = skeleton
	reg.indexEntity(group)
	reg.logger.Info("groups", "Renamed group", oldName, "to", name)
	return nil
}

// GroupCount counts the memberships of an entity that carry any of `flags`
// (any membership at all when flags is zero).
func GroupCount(e Entity, flags GroupACLFlags) (count int) {
	for _, ga := range e.base().memberships {
		if flags == GANone || ga.Flags&flags != 0 {
			count++
		}
	}
	return
}

// GroupFounderCount returns the number of members holding GAFounder.
func GroupFounderCount(g *Group) (count int) {
	for _, ga := range g.access {
		if ga.Flags&GAFounder != 0 {
			count++
		}
	}
	return
}

// FounderNames lists the founders for display, separated by ", " and
// truncated with "..." when too long for one line.
func FounderNames(g *Group) string {
	var buf strings.Builder
	for _, ga := range g.access {
		if ga.Flags&GAFounder == 0 {
			continue
		}
		if buf.Len() != 0 {
			if buf.Len()+2 >= founderNamesLimit {
				break
			}
			buf.WriteString(", ")
		}
		name := ga.Member.Name()
		if buf.Len()+len(name) >= founderNamesLimit {
			if buf.Len()+3 < founderNamesLimit {
				buf.WriteString("...")
			}
			break
		}
		buf.WriteString(name)
	}
	return buf.String()
}

// VisibleGroups lists the groups an account belongs to, as shown to
// `viewer`: groups that are public and where the account is not banned,
// or every group when the viewer is the account itself or has auspex.
func VisibleGroups(account *Account, viewer *Account, auspex bool) (result []*Group) {
	for _, ga := range account.memberships {
		if ga.Member != Entity(account) {
			continue
		}
		if (ga.Flags&GABan == 0 && ga.Group.Flags&MGPublic != 0) || viewer == account || auspex {
			result = append(result, ga.Group)
		}
	}
	return
}

// FindGroupMember returns the direct membership entry of `member`, or nil.
func FindGroupMember(g *Group, member Entity) *GroupAccess {
	for _, ga := range g.access {
		if ga.Member == member {
			return ga
		}
	}
	return nil
}

// LoadGroupacs adds a membership for the database loader; duplicates are refused.
func (reg *Registry) LoadGroupacs(g *Group, member Entity, flags GroupACLFlags, modified time.Time) (*GroupAccess, error) {
	if FindGroupMember(g, member) != nil {
		return nil, ErrNameInUse
	}
	return reg.addGroupacs(g, member, flags, modified), nil
}

func (reg *Registry) addGroupacs(g *Group, member Entity, flags GroupACLFlags, modified time.Time) *GroupAccess {
	ga := &GroupAccess{
		Group:    g,
		Member:   member,
		Flags:    flags,
		Modified: modified,
	}
	g.access = append(g.access, ga)
	b := member.base()
	b.memberships = append(b.memberships, ga)
	return ga
}

func (reg *Registry) deleteGroupacs(ga *GroupAccess) {
	g := ga.Group
	g.access = slices.DeleteFunc(g.access, func(other *GroupAccess) bool { return other == ga })
	b := ga.Member.base()
	b.memberships = slices.DeleteFunc(b.memberships, func(other *GroupAccess) bool { return other == ga })
}

// InviteToGroup lets `account` join the group once even if it is not open.
func (reg *Registry) InviteToGroup(g *Group, account *Account) {
	if account.Metadata == nil {
		account.Metadata = make(map[string]string)
	}
	account.Metadata[GroupInviteMetadata] = g.name
}

// JoinGroup adds `account` to an open group (or one it was invited to)
// with the group's join flags.
func (reg *Registry) JoinGroup(g *Group, account *Account) (ga *GroupAccess, err error) {
	invited := strings.EqualFold(account.Metadata[GroupInviteMetadata], g.name)
	if !invited && (g.Flags&MGOpen == 0 || !reg.config.EnableOpenGroups) {
		return nil, ErrGroupNotOpen
	}
	if findGroupAccess(g, account, GABan, true) != nil {
		return nil, ErrBanned
	}
	if findGroupAccess(g, account, GANone, true) != nil {
		return nil, ErrNoChange
	}
	if !invited && reg.config.MaxGroupacs != 0 && g.Flags&MGACSNoLimit == 0 && len(g.access) >= reg.config.MaxGroupacs {
		return nil, ErrACLTableFull
	}

	flags := reg.config.JoinFlags
	if value, ok := g.Metadata[JoinFlagsMetadata]; ok {
		if parsed, perr := strconv.ParseUint(value, 10, 32); perr == nil {
			flags = GroupACLFlags(parsed)
		}
	}
	flags &^= GAFounder

	event := GroupACLChangeEvent{Group: g, Member: account, Setter: account, NewFlags: flags, Approved: true}
	reg.Hooks.GroupACLChange.Run(&event)
	if !event.Approved {
		return nil, ErrChangeVetoed
	}

	ga = reg.addGroupacs(g, account, flags, reg.now().UTC())
	if invited {
		delete(account.Metadata, GroupInviteMetadata)
	}
	reg.logger.Info("groups", account.name, "joined group", g.name)
	return ga, nil
}
