// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package irc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ergochat/ergo-services/irc/flock"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/registry"
	"github.com/ergochat/ergo-services/irc/sasl"
)

const servicesConfigTemplate = `
server:
    name: services.example.com
    network: ExampleNet
datastore:
    path: %s
accounts:
    pbkdf2:
        digest: sha2-256
        iterations: 10000
        salt-length: 16
    login-throttling:
        address-burst: %d
        address-account-burst: %d
`

type testEnv struct {
	dir      string
	filename string
	logger   *logger.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	dir := t.TempDir()
	env := &testEnv{
		dir:      dir,
		filename: filepath.Join(dir, "services.yaml"),
		logger:   logger.NewWriterManager(io.Discard, logger.LogDebug),
	}
	env.writeConfig(t, 0, 0)
	if err := InitDB(env.config(t), env.logger); err != nil {
		t.Fatal(err)
	}
	return env
}

// writeConfig sets the login throttle bursts; 0 disables a dimension.
func (env *testEnv) writeConfig(t *testing.T, addressBurst, accountBurst int) {
	contents := fmt.Sprintf(servicesConfigTemplate, filepath.Join(env.dir, "services.db"), addressBurst, accountBurst)
	if err := os.WriteFile(env.filename, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) config(t *testing.T) *Config {
	config, err := LoadConfig(env.filename)
	if err != nil {
		t.Fatal(err)
	}
	return config
}

// start runs a Services on the environment's datastore until the test ends
// or the returned stop function is called.
func (env *testEnv) start(t *testing.T) (services *Services, stop func()) {
	services, err := NewServices(env.config(t), env.logger)
	if err != nil {
		t.Fatal(err)
	}
	go services.Run()
	t.Cleanup(services.Stop)
	return services, services.Stop
}

func plainParam(authcid, password string) string {
	return base64.StdEncoding.EncodeToString([]byte("\x00" + authcid + "\x00" + password))
}

func TestLoginByPassphrase(t *testing.T) {
	services, _ := newTestEnv(t).start(t)
	if err := services.RegisterAccount("Alice", "correct horse", ""); err != nil {
		t.Fatal(err)
	}

	account, status, err := services.LoginByPassphrase("192.0.2.1", "alice", "correct horse")
	assertEqual(err, nil, t)
	assertEqual(status, sasl.StatusDone, t)
	assertEqual(account, "Alice", t)

	account, status, _ = services.LoginByPassphrase("192.0.2.1", "alice", "battery staple")
	assertEqual(status, sasl.StatusFail, t)
	assertEqual(account, "", t)

	_, status, _ = services.LoginByPassphrase("192.0.2.1", "nobody", "correct horse")
	assertEqual(status, sasl.StatusFail, t)

	assertEqual(services.RegisterAccount("ALICE", "another horse", ""), registry.ErrNameInUse, t)
}

func TestLoginThrottle(t *testing.T) {
	env := newTestEnv(t)
	env.writeConfig(t, 0, 2)
	services, _ := env.start(t)
	if err := services.RegisterAccount("alice", "correct horse", ""); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		_, status, _ := services.LoginByPassphrase("192.0.2.1", "alice", "wrong")
		assertEqual(status, sasl.StatusFail, t)
	}
	// the bucket for this address and account is exhausted
	account, status, _ := services.LoginByPassphrase("192.0.2.1", "alice", "correct horse")
	assertEqual(status, sasl.StatusFail, t)
	assertEqual(account, "", t)

	// other addresses are unaffected
	account, status, _ = services.LoginByPassphrase("2001:db8::1", "alice", "correct horse")
	assertEqual(status, sasl.StatusDone, t)
	assertEqual(account, "alice", t)

	var buckets int
	services.Do(func() { buckets = services.throttle.Size() })
	assertEqual(buckets, 2, t)
}

func TestAuthenticatePlain(t *testing.T) {
	services, _ := newTestEnv(t).start(t)
	if err := services.RegisterAccount("alice", "correct horse", ""); err != nil {
		t.Fatal(err)
	}

	result, err := services.Authenticate("conn1", "192.0.2.1", "", "PLAIN")
	assertEqual(err, nil, t)
	assertEqual(result.Outcome, sasl.OutcomeContinue, t)
	assertEqual(result.Authenticate, []string{"+"}, t)

	result, _ = services.Authenticate("conn1", "192.0.2.1", "", plainParam("alice", "correct horse"))
	assertEqual(result.Outcome, sasl.OutcomeSuccess, t)
	assertEqual(result.Account, "alice", t)

	// a finished exchange leaves nothing behind
	var conversations int
	services.Do(func() { conversations = len(services.conversations) })
	assertEqual(conversations, 0, t)

	result, _ = services.Authenticate("conn2", "192.0.2.1", "", "PLAIN")
	assertEqual(result.Outcome, sasl.OutcomeContinue, t)
	result, _ = services.Authenticate("conn2", "192.0.2.1", "", plainParam("alice", "wrong"))
	assertEqual(result.Outcome, sasl.OutcomeFailure, t)
	assertEqual(result.Account, "", t)

	result, _ = services.Authenticate("conn3", "192.0.2.1", "", "DIGEST-MD5")
	assertEqual(result.Outcome, sasl.OutcomeFailure, t)
}

func TestDisconnectAbortsExchange(t *testing.T) {
	services, _ := newTestEnv(t).start(t)

	result, _ := services.Authenticate("conn1", "192.0.2.1", "", "SCRAM-SHA-256")
	assertEqual(result.Outcome, sasl.OutcomeContinue, t)
	assertEqual(services.Disconnect("conn1"), nil, t)

	var conversations int
	services.Do(func() { conversations = len(services.conversations) })
	assertEqual(conversations, 0, t)

	result, _ = services.Authenticate("conn2", "192.0.2.1", "", "PLAIN")
	assertEqual(result.Outcome, sasl.OutcomeContinue, t)
	result, _ = services.Authenticate("conn2", "192.0.2.1", "", "*")
	assertEqual(result.Outcome, sasl.OutcomeAborted, t)
}

func TestChannelAccess(t *testing.T) {
	services, _ := newTestEnv(t).start(t)
	for _, name := range []string{"alice", "bob"} {
		if err := services.RegisterAccount(name, "correct horse", ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := services.RegisterChannel("#test", "alice"); err != nil {
		t.Fatal(err)
	}
	alice := Requester{Account: "alice"}
	bob := Requester{Account: "bob", Hostmasks: []string{"bob!b@example.com"}}

	flags, err := services.ChangeChannelAccess("#TEST", "bob", "+vo", alice)
	assertEqual(err, nil, t)
	assertEqual(flags, "+vo", t)

	allowed, err := services.CheckFlag("#test", bob, "o")
	assertEqual(err, nil, t)
	assertEqual(allowed, true, t)
	allowed, _ = services.CheckFlag("#test", bob, "of")
	assertEqual(allowed, false, t)

	_, err = services.ChangeChannelAccess("#test", "bob", "+f", bob)
	assertEqual(err, registry.ErrInsufficientPrivileges, t)

	flags, err = services.ChangeChannelAccess("#test", "*!*@example.com", "+e", alice)
	assertEqual(err, nil, t)
	assertEqual(flags, "+e", t)
	allowed, _ = services.CheckFlag("#test", Requester{Hostmasks: []string{"guest!g@example.com"}}, "e")
	assertEqual(allowed, true, t)

	flags, err = services.ChangeChannelAccess("#test", "bob", "-*", alice)
	assertEqual(err, nil, t)
	assertEqual(flags, "", t)

	_, err = services.ChangeChannelAccess("#nowhere", "bob", "+v", alice)
	assertEqual(err, errChannelNotFound, t)
	_, err = services.ChangeChannelAccess("#test", "bob", "+", alice)
	assertEqual(err, errInvalidFlags, t)
	_, err = services.CheckFlag("#test", Requester{Account: "mallory"}, "v")
	assertEqual(err, errNoSuchSetter, t)
}

func TestGroupAccess(t *testing.T) {
	services, _ := newTestEnv(t).start(t)
	for _, name := range []string{"alice", "bob"} {
		if err := services.RegisterAccount(name, "correct horse", ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := services.RegisterGroup("!staff", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := services.RegisterChannel("#staff", "alice"); err != nil {
		t.Fatal(err)
	}
	alice := Requester{Account: "alice"}

	flags, err := services.ChangeGroupAccess("!staff", "bob", "+cA", alice)
	assertEqual(err, nil, t)
	assertEqual(flags, "+cA", t)

	// channel access granted to the group reaches its members
	_, err = services.ChangeChannelAccess("#staff", "!staff", "+v", alice)
	assertEqual(err, nil, t)
	allowed, _ := services.CheckFlag("#staff", Requester{Account: "bob"}, "v")
	assertEqual(allowed, true, t)

	flags, err = services.ChangeGroupAccess("!staff", "bob", "-c", alice)
	assertEqual(err, nil, t)
	assertEqual(flags, "+A", t)

	_, err = services.ChangeGroupAccess("!staff", "alice", "+c", Requester{Account: "bob"})
	assertEqual(err, registry.ErrInsufficientPrivileges, t)
	_, err = services.ChangeGroupAccess("!nowhere", "bob", "+c", alice)
	assertEqual(err, errGroupNotFound, t)
}

func TestPersistence(t *testing.T) {
	env := newTestEnv(t)
	services, stop := env.start(t)
	if err := services.RegisterAccount("alice", "correct horse", ""); err != nil {
		t.Fatal(err)
	}
	if err := services.RegisterChannel("#test", "alice"); err != nil {
		t.Fatal(err)
	}
	assertEqual(services.Save(), nil, t)
	stop()

	services, _ = env.start(t)
	stats, err := services.Stats()
	assertEqual(err, nil, t)
	assertEqual(stats, registry.Stats{Accounts: 1, Groups: 0, Channels: 1}, t)
	account, status, _ := services.LoginByPassphrase("192.0.2.1", "alice", "correct horse")
	assertEqual(status, sasl.StatusDone, t)
	assertEqual(account, "alice", t)

	// the datastore is locked while in use
	_, err = NewServices(env.config(t), env.logger)
	assertEqual(err, flock.CouldntAcquire, t)
}

func TestExportImport(t *testing.T) {
	env := newTestEnv(t)
	services, stop := env.start(t)
	if err := services.RegisterAccount("alice", "correct horse", ""); err != nil {
		t.Fatal(err)
	}
	stop()

	dump := filepath.Join(env.dir, "dump.json")
	config := env.config(t)
	assertEqual(ExportDB(config, env.logger, dump), nil, t)

	// import into a fresh datastore
	other := newTestEnv(t)
	assertEqual(ImportDB(other.config(t), other.logger, dump), nil, t)
	services, _ = other.start(t)
	stats, _ := services.Stats()
	assertEqual(stats.Accounts, 1, t)
}

func TestStoppedServices(t *testing.T) {
	services, stop := newTestEnv(t).start(t)

	// a panicking task does not take the loop down
	assertEqual(services.Do(func() { panic("oops") }), nil, t)
	_, err := services.Stats()
	assertEqual(err, nil, t)

	stop()
	err = services.Do(func() {})
	if !errors.Is(err, errServicesStopped) {
		t.Errorf("expected errServicesStopped, got %v", err)
	}
}

func TestRehash(t *testing.T) {
	env := newTestEnv(t)
	services, _ := env.start(t)

	env.writeConfig(t, 7, 3)
	assertEqual(services.Rehash(), nil, t)
	var burst uint
	services.Do(func() { burst = services.throttle.Config().Address.Burst })
	assertEqual(burst, uint(7), t)

	contents := fmt.Sprintf(servicesConfigTemplate, filepath.Join(env.dir, "moved.db"), 1, 1)
	if err := os.WriteFile(env.filename, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	assertEqual(services.Rehash(), ErrDatastorePathChanged, t)
	services.Do(func() { burst = services.throttle.Config().Address.Burst })
	assertEqual(burst, uint(7), t)
}
