// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func assertEqual(supplied, expected interface{}, t *testing.T) {
	if !reflect.DeepEqual(supplied, expected) {
		t.Helper()
		t.Errorf("expected %v but got %v", expected, supplied)
	}
}

var testEpoch = time.Unix(1700000000, 0).UTC()

// newTestRegistry returns a registry whose clock advances one second per read
func newTestRegistry() *Registry {
	reg := NewRegistry(DefaultConfig(), nil)
	var tick int
	reg.SetClock(func() time.Time {
		tick++
		return testEpoch.Add(time.Duration(tick) * time.Second)
	})
	return reg
}

func mustAccount(reg *Registry, name string, t *testing.T) *Account {
	account, err := reg.RegisterAccount(name, "", "")
	if err != nil {
		t.Fatalf("could not register %s: %v", name, err)
	}
	return account
}

func mustGroup(reg *Registry, name string, founder *Account, t *testing.T) *Group {
	group, err := reg.RegisterGroup(name, founder)
	if err != nil {
		t.Fatalf("could not register %s: %v", name, err)
	}
	return group
}

func mustChannel(reg *Registry, name string, founder Entity, t *testing.T) *Channel {
	mc, err := reg.RegisterChannel(name, founder)
	if err != nil {
		t.Fatalf("could not register %s: %v", name, err)
	}
	return mc
}

func TestRegisterAccount(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "Alice", t)

	assertEqual(alice.NameCasefolded(), "alice", t)
	assertEqual(alice.Nicks, []string{"alice"}, t)
	assertEqual(alice.Flags&MUNoPassword != 0, true, t)
	assertEqual(reg.FindAccount("ALICE"), alice, t)
	assertEqual(reg.FindEntityByID(alice.ID()), Entity(alice), t)
	assertEqual(reg.FindAccountByNick("alice"), alice, t)

	_, err := reg.RegisterAccount("alice", "", "")
	assertEqual(err, ErrNameInUse, t)
	_, err = reg.RegisterAccount("bad name", "", "")
	assertEqual(err, ErrInvalidName, t)
	_, err = reg.RegisterAccount("#chan", "", "")
	assertEqual(err, ErrInvalidName, t)
}

func TestRegisterAccountHook(t *testing.T) {
	reg := newTestRegistry()
	var registered []string
	reg.Hooks.AccountRegister.Add(func(event *AccountEvent) {
		registered = append(registered, event.Account.Name())
	})
	mustAccount(reg, "alice", t)
	mustAccount(reg, "bob", t)
	assertEqual(registered, []string{"alice", "bob"}, t)
	assertEqual(reg.Stats(), Stats{Accounts: 2}, t)
}

func TestEmailLimit(t *testing.T) {
	reg := newTestRegistry()
	config := DefaultConfig()
	config.MaxPerEmail = 2
	reg.SetConfig(config)

	_, err := reg.RegisterAccount("one", "", "Shared@Example.com")
	assertEqual(err, nil, t)
	two, err := reg.RegisterAccount("two", "", "shared@example.com ")
	assertEqual(err, nil, t)
	_, err = reg.RegisterAccount("three", "", "SHARED@example.com")
	assertEqual(err, ErrTooManyPerEmail, t)
	assertEqual(reg.EmailCount("shared@example.com"), 2, t)

	assertEqual(reg.SetEmail(two, "other@example.com"), nil, t)
	assertEqual(reg.EmailCount("shared@example.com"), 1, t)
	_, err = reg.RegisterAccount("three", "", "shared@example.com")
	assertEqual(err, nil, t)
}

func TestNicksAndCertfps(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)
	bob := mustAccount(reg, "bob", t)

	assertEqual(reg.AddNick(alice, "Alice_"), nil, t)
	assertEqual(reg.FindAccountByNick("alice_"), alice, t)
	assertEqual(reg.AddNick(bob, "alice_"), ErrNickInUse, t)
	assertEqual(reg.AddNick(bob, "alice"), ErrNickInUse, t)
	assertEqual(reg.RemoveNick(alice, "alice"), ErrInsufficientPrivileges, t)
	assertEqual(reg.RemoveNick(alice, "alice_"), nil, t)
	assertEqual(reg.FindAccountByNick("alice_"), (*Account)(nil), t)

	assertEqual(reg.AddCertfp(alice, "ABCDEF"), nil, t)
	assertEqual(reg.FindAccountByCertfp("abcdef"), alice, t)
	assertEqual(reg.AddCertfp(bob, "abcdef"), ErrCertfpInUse, t)
	assertEqual(reg.RemoveCertfp(bob, "abcdef"), ErrNotFound, t)

	assertEqual(reg.AddAccessMask(alice, "Alice@*.example.com"), nil, t)
	assertEqual(reg.AddAccessMask(alice, "nouser"), ErrInvalidHostmask, t)
	assertEqual(reg.MatchAccessMask(alice, "alice@host.example.com"), true, t)
	assertEqual(reg.MatchAccessMask(alice, "alice@example.org"), false, t)
}

func TestConfusableNames(t *testing.T) {
	reg := newTestRegistry()
	mustAccount(reg, "paypal", t)
	// Cyrillic a
	_, err := reg.RegisterAccount("pаypal", "", "")
	assertEqual(err, ErrNameInUse, t)
}

func TestCanLogin(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)

	allowed, _ := reg.CanLogin(alice, "127.0.0.1", "PLAIN", true)
	assertEqual(allowed, true, t)

	reg.Hooks.UserCanLogin.Add(func(event *LoginCheckEvent) {
		if event.PasswordBased && event.Account.Flags&MUHold != 0 {
			event.Allowed = false
			event.Reason = "held"
		}
	})
	alice.Flags |= MUHold
	allowed, reason := reg.CanLogin(alice, "127.0.0.1", "PLAIN", true)
	assertEqual(allowed, false, t)
	assertEqual(reason, "held", t)
	allowed, _ = reg.CanLogin(alice, "127.0.0.1", "EXTERNAL", false)
	assertEqual(allowed, true, t)
}

func TestCanonicalizeHostmask(t *testing.T) {
	check := func(input, expected string) {
		result, err := CanonicalizeHostmask(input)
		if err != nil {
			t.Errorf("unexpected error for %s: %v", input, err)
		}
		assertEqual(result, expected, t)
	}
	check("bob", "bob!*@*")
	check("*@Example.COM", "*!*@example.com")
	check("Bob!b@host", "bob!b@host")

	_, err := CanonicalizeHostmask("has space")
	assertEqual(errors.Is(err, ErrInvalidHostmask), true, t)

	assertEqual(IsHostmask("*!*@host"), true, t)
	assertEqual(IsHostmask("alice"), false, t)
}
