// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ergochat/ergo-services/irc/datastore"
)

const (
	// RegistryVersion is written in the DBV row
	RegistryVersion = 12
	// GroupsVersion is written in the GDBV row; older group rows lack
	// fields and are filled in with defaults when loaded
	GroupsVersion = 4
)

var (
	ErrNewerSnapshot = errors.New("snapshot was written by a newer version")
)

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// WriteSnapshot emits every persisted record: the schema row first, then
// accounts and their satellite rows, groups and memberships, and channels
// and their access lists. Entities are always written before the rows
// that refer to them.
func (reg *Registry) WriteSnapshot(w datastore.RowWriter) (err error) {
	write := func(tag string, fields ...datastore.Field) {
		if err == nil {
			err = w.WriteRow(tag, fields...)
		}
	}

	write("DBV", datastore.Int(RegistryVersion))

	accounts := reg.Accounts()
	for _, mu := range accounts {
		write("MU", datastore.Word(mu.id), datastore.Word(mu.name), datastore.Time(mu.Registered),
			datastore.Time(mu.LastLogin), datastore.Uint(uint64(mu.Flags)),
			datastore.String(mu.Verifier), datastore.String(mu.Email), datastore.String(mu.Soper))
	}
	for _, mu := range accounts {
		for _, nick := range mu.Nicks {
			if nick != mu.nameCasefolded {
				write("MN", datastore.Word(nick), datastore.Word(mu.name))
			}
		}
		for _, certfp := range mu.Certfps {
			write("MCFP", datastore.Word(mu.name), datastore.Word(certfp))
		}
		for _, mask := range mu.AccessMasks {
			write("AM", datastore.Word(mu.name), datastore.Word(mask))
		}
		for _, key := range sortedKeys(mu.Metadata) {
			write("MDU", datastore.Word(mu.name), datastore.Word(key), datastore.String(mu.Metadata[key]))
		}
	}

	groups := reg.Groups()
	write("GDBV", datastore.Int(GroupsVersion))
	write("GFA", datastore.Word(GAAll.Letters()))
	for _, mg := range groups {
		write("GRP", datastore.Word(mg.id), datastore.Word(mg.name), datastore.Time(mg.Registered), datastore.Uint(uint64(mg.Flags)))
	}
	for _, mg := range groups {
		for _, key := range sortedKeys(mg.Metadata) {
			write("MDG", datastore.Word(mg.name), datastore.Word(key), datastore.String(mg.Metadata[key]))
		}
	}
	for _, mg := range groups {
		for _, ga := range mg.access {
			write("GACL", datastore.Word(mg.name), datastore.Word(ga.Member.Name()), datastore.String(ga.Flags.Letters()), datastore.Time(ga.Modified))
		}
	}

	channels := reg.Channels()
	for _, mc := range channels {
		write("MC", datastore.Word(mc.Name), datastore.Time(mc.Registered), datastore.Time(mc.LastUsed),
			datastore.Uint(uint64(mc.Flags&^mcRuntimeMask)), datastore.Uint(uint64(mc.MlockOn)),
			datastore.Uint(uint64(mc.MlockOff)), datastore.Uint(uint64(mc.MlockLimit)), datastore.String(mc.MlockKey))
		for _, key := range sortedKeys(mc.Metadata) {
			write("MDC", datastore.Word(mc.Name), datastore.Word(key), datastore.String(mc.Metadata[key]))
		}
	}
	for _, mc := range channels {
		for _, ca := range mc.access {
			write("CA", datastore.Word(mc.Name), datastore.Word(ca.TargetName()), datastore.Word(ca.Flags.String()),
				datastore.Time(ca.Modified), datastore.String(ca.SetterID))
		}
	}
	return
}

// LoadStats summarizes a load.
type LoadStats struct {
	Rows    int
	Skipped int
}

type loadState struct {
	gdbv       int64
	theirGAAll GroupACLFlags
}

// LoadSnapshot rebuilds the registry from rows written by WriteSnapshot
// (or an older version of it). Rows with unknown tags, rows that refer to
// missing entities and rows that would duplicate an existing record are
// skipped with a diagnostic. Only a snapshot from a newer schema is fatal.
func (reg *Registry) LoadSnapshot(rows []datastore.Row) (stats LoadStats, err error) {
	state := loadState{gdbv: GroupsVersion, theirGAAll: GAAll}
	for _, row := range rows {
		stats.Rows++
		r := datastore.NewReader(row)
		var handled bool
		handled, err = reg.loadRow(r, &state)
		if err != nil {
			return
		}
		if !handled {
			stats.Skipped++
		}
	}
	return
}

func (reg *Registry) skipRow(r *datastore.Reader, reason string) (bool, error) {
	reg.logger.Info("datastore", "Skipping", r.Tag(), "row:", reason)
	return false, nil
}

func (reg *Registry) loadRow(r *datastore.Reader, state *loadState) (handled bool, err error) {
	switch r.Tag() {
	case "DBV":
		version := r.Int()
		if r.Err() == nil && version > RegistryVersion {
			return false, fmt.Errorf("%w: schema %d, supported %d", ErrNewerSnapshot, version, RegistryVersion)
		}
	case "MU":
		return reg.loadAccount(r)
	case "MN":
		nick, account := r.Word(), r.Word()
		if r.Err() == nil {
			mu := reg.FindAccount(account)
			if mu == nil {
				return reg.skipRow(r, "no such account "+account)
			}
			if err := reg.loadNick(mu, nick); err != nil {
				return reg.skipRow(r, err.Error())
			}
		}
	case "MCFP":
		account, certfp := r.Word(), r.Word()
		if r.Err() == nil {
			mu := reg.FindAccount(account)
			if mu == nil {
				return reg.skipRow(r, "no such account "+account)
			}
			if err := reg.AddCertfp(mu, certfp); err != nil {
				return reg.skipRow(r, err.Error())
			}
		}
	case "AM":
		account, mask := r.Word(), r.Word()
		if r.Err() == nil {
			mu := reg.FindAccount(account)
			if mu == nil {
				return reg.skipRow(r, "no such account "+account)
			}
			if err := reg.AddAccessMask(mu, mask); err != nil {
				return reg.skipRow(r, err.Error())
			}
		}
	case "MDU":
		account, key, value := r.Word(), r.Word(), r.Str()
		if r.Err() == nil {
			mu := reg.FindAccount(account)
			if mu == nil {
				return reg.skipRow(r, "no such account "+account)
			}
			if mu.Metadata == nil {
				mu.Metadata = make(map[string]string)
			}
			mu.Metadata[key] = value
		}
	case "GDBV":
		state.gdbv = r.Int()
		state.theirGAAll = GAAllOld
	case "GFA":
		state.theirGAAll = ParseGroupFlags(r.Word(), false, GANone)
	case "GRP":
		return reg.loadGroup(r, state)
	case "MDG":
		group, key, value := r.Word(), r.Word(), r.Str()
		if r.Err() == nil {
			mg := reg.FindGroup(group)
			if mg == nil {
				return reg.skipRow(r, "no such group "+group)
			}
			if mg.Metadata == nil {
				mg.Metadata = make(map[string]string)
			}
			mg.Metadata[key] = value
		}
	case "GACL":
		return reg.loadGroupacs(r, state)
	case "MC":
		return reg.loadChannel(r)
	case "MDC":
		channel, key, value := r.Word(), r.Word(), r.Str()
		if r.Err() == nil {
			mc := reg.FindChannel(channel)
			if mc == nil {
				return reg.skipRow(r, "no such channel "+channel)
			}
			if mc.Metadata == nil {
				mc.Metadata = make(map[string]string)
			}
			mc.Metadata[key] = value
		}
	case "CA":
		return reg.loadChanacs(r)
	default:
		return reg.skipRow(r, "unknown tag")
	}
	if r.Err() != nil {
		return reg.skipRow(r, r.Err().Error())
	}
	return true, nil
}

func (reg *Registry) loadAccount(r *datastore.Reader) (bool, error) {
	id, name := r.Word(), r.Word()
	registered, lastLogin := r.Time(), r.Time()
	flags := r.Uint()
	verifier, email := r.Str(), r.Str()
	var soper string
	if r.Remaining() != 0 {
		soper = r.Str()
	}
	if r.Err() != nil {
		return reg.skipRow(r, r.Err().Error())
	}
	mu := NewAccount(id, name)
	mu.Registered = registered
	mu.LastLogin = lastLogin
	mu.Flags = AccountFlags(flags)
	mu.Verifier = verifier
	mu.Email = email
	mu.Soper = soper
	if err := reg.AddAccount(mu); err != nil {
		return reg.skipRow(r, fmt.Sprintf("account %s: %v", name, err))
	}
	return true, nil
}

func (reg *Registry) loadGroup(r *datastore.Reader, state *loadState) (bool, error) {
	var id string
	if state.gdbv >= 4 {
		id = r.Word()
	}
	name := r.Word()
	registered := r.Time()
	var flags uint64
	if state.gdbv >= 3 {
		flags = r.Uint()
	}
	if r.Err() != nil {
		return reg.skipRow(r, r.Err().Error())
	}
	if id == "" {
		id = reg.newID()
	}
	if reg.FindEntity(name) != nil {
		return reg.skipRow(r, "duplicate group "+name)
	}
	mg := NewGroup(id, name)
	mg.Registered = registered
	mg.Flags = GroupFlags(flags)
	if err := reg.AddGroup(mg); err != nil {
		return reg.skipRow(r, fmt.Sprintf("group %s: %v", name, err))
	}
	return true, nil
}

func (reg *Registry) loadGroupacs(r *datastore.Reader, state *loadState) (bool, error) {
	group, member := r.Word(), r.Word()
	flags := GAAll
	if state.gdbv >= 2 {
		flags = ParseGroupFlags(r.Str(), false, GANone)
	}
	modified := reg.now().UTC()
	if r.Remaining() != 0 {
		modified = r.Time()
	}
	if r.Err() != nil {
		return reg.skipRow(r, r.Err().Error())
	}

	mg := reg.FindGroup(group)
	if mg == nil {
		return reg.skipRow(r, "no such group "+group)
	}
	mt := reg.FindEntity(member)
	if mt == nil {
		return reg.skipRow(r, "no such entity "+member)
	}

	// rows written before ACLVIEW existed carry the old default set
	if state.theirGAAll&GAACLView == 0 && flags&GAAllOld == state.theirGAAll {
		flags |= GAACLView
	}

	if _, err := reg.LoadGroupacs(mg, mt, flags, modified); err != nil {
		return reg.skipRow(r, fmt.Sprintf("duplicate membership %s in %s", member, group))
	}
	return true, nil
}

func (reg *Registry) loadChannel(r *datastore.Reader) (bool, error) {
	mc := &Channel{
		Name:       r.Word(),
		Registered: r.Time(),
		LastUsed:   r.Time(),
		Flags:      ChannelFlags(r.Uint()),
		MlockOn:    uint32(r.Uint()),
		MlockOff:   uint32(r.Uint()),
		MlockLimit: uint32(r.Uint()),
	}
	if r.Remaining() != 0 {
		mc.MlockKey = r.Str()
	}
	if r.Err() != nil {
		return reg.skipRow(r, r.Err().Error())
	}
	if err := reg.AddChannel(mc); err != nil {
		return reg.skipRow(r, fmt.Sprintf("channel %s: %v", mc.Name, err))
	}
	return true, nil
}

func (reg *Registry) loadChanacs(r *datastore.Reader) (bool, error) {
	channel, targetName, flagString := r.Word(), r.Word(), r.Word()
	modified := r.Time()
	var setterID string
	if r.Remaining() != 0 {
		setterID = r.Str()
	}
	if r.Err() != nil {
		return reg.skipRow(r, r.Err().Error())
	}
	mc := reg.FindChannel(channel)
	if mc == nil {
		return reg.skipRow(r, "no such channel "+channel)
	}
	var target Target
	if IsHostmask(targetName) {
		target.Host = targetName
	} else if target.Entity = reg.FindEntity(targetName); target.Entity == nil {
		return reg.skipRow(r, "no such entity "+targetName)
	}
	flags, _ := ParseChannelFlags(flagString)
	if _, err := reg.LoadChanacs(mc, target, flags, setterID, modified); err != nil {
		return reg.skipRow(r, fmt.Sprintf("%s %s: %v", channel, targetName, err))
	}
	return true, nil
}

// loadNick reserves a stored nickname; the per-account limit is not applied.
func (reg *Registry) loadNick(account *Account, nick string) error {
	cfnick, err := CasefoldAccount(nick)
	if err != nil {
		return err
	}
	if reg.nicks[cfnick] != nil || (reg.entities[cfnick] != nil && reg.entities[cfnick] != Entity(account)) {
		return ErrNickInUse
	}
	account.Nicks = append(account.Nicks, cfnick)
	reg.nicks[cfnick] = account
	return nil
}
