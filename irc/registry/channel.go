// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"slices"
	"strings"
	"time"

	"github.com/ergochat/ergo-services/irc/utils"
)

// FindChannel looks up a channel registration by name.
func (reg *Registry) FindChannel(name string) *Channel {
	cfname, err := CasefoldChannel(name)
	if err != nil {
		return nil
	}
	return reg.channels[cfname]
}

// ChannelCount returns the number of channels an entity holds founder
// access on.
func ChannelCount(e Entity) (count int) {
	for _, ca := range e.base().chanacs {
		if ca.Flags&CAFounder != 0 {
			count++
		}
	}
	return
}

// RegisterChannel registers a channel with `founder` holding the initial
// founder flags.
func (reg *Registry) RegisterChannel(name string, founder Entity) (mc *Channel, err error) {
	cfname, err := CasefoldChannel(name)
	if err != nil {
		return nil, err
	}
	if reg.channels[cfname] != nil {
		return nil, ErrChannelRegistered
	}
	if !founder.CanRegisterChannel() && reg.config.MaxChannels != 0 && ChannelCount(founder) >= reg.config.MaxChannels {
		return nil, ErrTooManyChannels
	}

	now := reg.now().UTC()
	mc = &Channel{
		Name:           name,
		NameCasefolded: cfname,
		Registered:     now,
		LastUsed:       now,
		Flags:          MCGuard | MCSecure | MCVerbose,
	}
	reg.channels[cfname] = mc
	reg.addChanacs(mc, EntityTarget(founder), CAInitial, founder.ID(), now)
	reg.Hooks.ChannelRegister.Run(&ChannelEvent{Channel: mc, Founder: founder})
	reg.logger.Info("chanacs", "Registered channel", name, "to", founder.Name())
	return mc, nil
}

// AddChannel indexes a channel built by the database loader.
func (reg *Registry) AddChannel(mc *Channel) error {
	cfname, err := CasefoldChannel(mc.Name)
	if err != nil {
		return err
	}
	if reg.channels[cfname] != nil {
		return ErrChannelRegistered
	}
	mc.NameCasefolded = cfname
	mc.Flags &^= mcRuntimeMask
	reg.channels[cfname] = mc
	return nil
}

// DropChannel destroys a channel registration together with its access list.
func (reg *Registry) DropChannel(mc *Channel, reason string) {
	if reg.channels[mc.NameCasefolded] != mc {
		return
	}
	reg.Hooks.ChannelDrop.Run(&ChannelEvent{Channel: mc})
	for len(mc.access) != 0 {
		reg.deleteChanacs(mc.access[len(mc.access)-1])
	}
	delete(reg.channels, mc.NameCasefolded)
	reg.logger.Info("chanacs", "Dropped channel", mc.Name, reason)
}

// FindChanacs returns the access entry of the channel for exactly this
// target, without any matching.
func FindChanacs(mc *Channel, target Target) *ChannelAccess {
	for _, ca := range mc.access {
		if target.Entity != nil {
			if ca.Entity == target.Entity {
				return ca
			}
		} else if ca.Entity == nil && ca.Host == target.Host {
			return ca
		}
	}
	return nil
}

// LoadChanacs adds an entry for the database loader; duplicates are refused.
func (reg *Registry) LoadChanacs(mc *Channel, target Target, flags ChannelACLFlags, setterID string, modified time.Time) (*ChannelAccess, error) {
	if target.Entity == nil {
		host, err := CanonicalizeHostmask(target.Host)
		if err != nil {
			return nil, err
		}
		target.Host = host
	}
	if FindChanacs(mc, target) != nil {
		return nil, ErrNameInUse
	}
	if flags == CANone {
		return nil, ErrNoChange
	}
	return reg.addChanacs(mc, target, flags, setterID, modified), nil
}

func (reg *Registry) addChanacs(mc *Channel, target Target, flags ChannelACLFlags, setterID string, modified time.Time) *ChannelAccess {
	ca := &ChannelAccess{
		Channel:  mc,
		Entity:   target.Entity,
		Host:     target.Host,
		Flags:    flags,
		Modified: modified,
		SetterID: setterID,
	}
	if ca.Entity == nil {
		ca.matcher, _ = utils.CompileGlob(ca.Host)
	} else {
		b := ca.Entity.base()
		b.chanacs = append(b.chanacs, ca)
	}
	mc.access = append(mc.access, ca)
	return ca
}

func (reg *Registry) deleteChanacs(ca *ChannelAccess) {
	mc := ca.Channel
	mc.access = slices.DeleteFunc(mc.access, func(other *ChannelAccess) bool { return other == ca })
	if ca.Entity != nil {
		b := ca.Entity.base()
		b.chanacs = slices.DeleteFunc(b.chanacs, func(other *ChannelAccess) bool { return other == ca })
	}
}

// matchesHostmask reports whether any of the source's masks match the entry.
func (ca *ChannelAccess) matchesHostmask(hostmasks []string) bool {
	if ca.matcher == nil {
		return false
	}
	for _, mask := range hostmasks {
		if ca.matcher.MatchString(strings.ToLower(mask)) {
			return true
		}
	}
	return false
}
