// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package throttle

import (
	"net/netip"
	"strings"
)

const (
	MinBurst = 0
	MaxBurst = 300
	// DefaultBurst is the number of attempts allowed before replenishing kicks in
	DefaultBurst = 1

	MinReplenish     = 0.1
	MaxReplenish     = 1800.0
	DefaultReplenish = 2.0

	DimensionAddress        = "IPADDR"
	DimensionAddressAccount = "IPADDR/ACCOUNT"
)

// Limit is one throttling dimension: `Burst` attempts, then one further
// attempt per `Replenish` seconds.
type Limit struct {
	Burst     uint    `yaml:"burst"`
	Replenish float64 `yaml:"replenish"`
}

// Config holds both dimensions applied to password-based logins.
type Config struct {
	Address        Limit
	AddressAccount Limit
}

// DefaultConfig returns the stock limits for both dimensions.
func DefaultConfig() Config {
	return Config{
		Address:        Limit{Burst: DefaultBurst, Replenish: DefaultReplenish},
		AddressAccount: Limit{Burst: DefaultBurst, Replenish: DefaultReplenish},
	}
}

// LoginThrottle is a table of token buckets. Each bucket holds a watermark
// timestamp: the time at which the bucket would be full again.
// It is not safe for concurrent use; the services loop owns it.
type LoginThrottle struct {
	buckets map[string]float64
	config  Config
}

// NewLoginThrottle returns an empty throttle table.
func NewLoginThrottle(config Config) *LoginThrottle {
	return &LoginThrottle{
		buckets: make(map[string]float64),
		config:  config,
	}
}

// SetConfig replaces the limits (e.g., on rehash); existing buckets are kept.
func (lt *LoginThrottle) SetConfig(config Config) {
	lt.config = config
}

// Config returns the current limits.
func (lt *LoginThrottle) Config() Config {
	return lt.config
}

// ShouldDeny records an attempt for key at time `now` (in seconds) and
// reports whether it must be refused. A burst of 0 disables throttling.
func (lt *LoginThrottle) ShouldDeny(key string, now float64, burst uint, replenish float64) bool {
	if burst == 0 {
		return false // limit of 0 disables throttling
	}

	watermark, ok := lt.buckets[key]
	if !ok || watermark < now {
		watermark = now
	}

	if watermark+replenish > now+(replenish*float64(burst)) {
		// denied attempts do not consume a slot
		lt.buckets[key] = watermark
		return true
	}
	lt.buckets[key] = watermark + replenish
	return false
}

// Sweep removes every bucket whose watermark is not in the future.
func (lt *LoginThrottle) Sweep(now float64) (removed int) {
	for key, watermark := range lt.buckets {
		if watermark <= now {
			delete(lt.buckets, key)
			removed++
		}
	}
	return
}

// Size returns the number of live buckets.
func (lt *LoginThrottle) Size() int {
	return len(lt.buckets)
}

// CheckLogin applies both dimensions to a password-based login attempt from
// `ip` against the account with ID `accountID`. Attempts whose address
// cannot be parsed are never throttled. The dimension that denied the
// attempt is returned for logging.
func (lt *LoginThrottle) CheckLogin(ip string, accountID string, now float64) (denied bool, dimension string) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false, ""
	}
	ipKey := strings.ToLower(addr.String())

	if lt.ShouldDeny(ipKey, now, lt.config.Address.Burst, lt.config.Address.Replenish) {
		return true, DimensionAddress
	}
	accountKey := ipKey + "/" + strings.ToLower(accountID)
	if lt.ShouldDeny(accountKey, now, lt.config.AddressAccount.Burst, lt.config.AddressAccount.Replenish) {
		return true, DimensionAddressAccount
	}
	return false, ""
}
