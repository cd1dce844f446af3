// Copyright (c) 2020 Shivaram Lingamneni
// released under the MIT license

package irc

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ergochat/ergo-services/irc/registry"
	"github.com/ergochat/ergo-services/irc/throttle"
)

func assertEqual(supplied, expected interface{}, t *testing.T) {
	t.Helper()
	if !reflect.DeepEqual(supplied, expected) {
		t.Errorf("expected %#v but got %#v", expected, supplied)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	var config Config
	config.Server.Name = "services.example.com"
	config.SASL.Mechanisms = []string{"PLAIN"}
	env := []string{
		`USER=shivaram`,           // unrelated var
		`ERGO_SERVICES_USER=ergo`, // this should be ignored as well
		`ERGO_SERVICES__SERVER__NETWORK=example.com`,
		`ERGO_SERVICES__DATASTORE__SAVE_INTERVAL=10m`,
		`ERGO_SERVICES__DATASTORE__MYSQL__MAX_CONNS=8`,
		`ERGO_SERVICES__ACCOUNTS__LOGIN_THROTTLING__ADDRESS_BURST=0`,
		`ERGO_SERVICES__SASL__AUTHCOOKIE={"enabled": true, "secret": "hunter2", "expiration": "5m"}`,
	}
	for _, envPair := range env {
		_, _, err := mungeFromEnvironment(&config, envPair)
		if err != nil {
			t.Errorf("couldn't apply override `%s`: %v", envPair, err)
		}
	}

	assertEqual(config.Server.Network, "example.com", t)
	assertEqual(config.Datastore.SaveInterval, 10*time.Minute, t)
	assertEqual(config.Datastore.MySQL.MaxConns, 8, t)
	if burst := config.Accounts.LoginThrottling.AddressBurst; burst == nil || *burst != 0 {
		t.Errorf("couldn't set unset ptr field to 0")
	}
	if config.Accounts.LoginThrottling.AddressAccountBurst != nil {
		t.Errorf("set unrelated ptr field")
	}
	cookies := config.SASL.Authcookie
	if !(cookies.Enabled && cookies.Secret == "hunter2" && cookies.Expiration == 5*time.Minute) {
		t.Errorf("bad value of Authcookie: %#v", cookies)
	}
	assertEqual(config.Server.Name, "services.example.com", t)
	assertEqual(config.SASL.Mechanisms, []string{"PLAIN"}, t)
}

func TestEnvironmentOverrideErrors(t *testing.T) {
	var config Config
	config.Server.Name = "services.example.com"

	invalidEnvs := []string{
		`ERGO_SERVICES__=asdf`,
		`ERGO_SERVICES__SERVER__=asdf`,
		`ERGO_SERVICES__SERVER____=asdf`,
		`ERGO_SERVICES__NONEXISTENT_KEY=1`,
		`ERGO_SERVICES__SERVER__NONEXISTENT_KEY=1`,
		// invalid yaml:
		`ERGO_SERVICES__SERVER__NAME="`,
		// invalid type:
		`ERGO_SERVICES__DATASTORE__MYSQL__PORT=asdf`,
		`ERGO_SERVICES__GROUPS=[]`,
		// index into non-struct:
		`ERGO_SERVICES__SERVER__NAME__QUX=1`,
		// private or skipped fields:
		`ERGO_SERVICES__PARAMS__ITERATIONS=1`,
		`ERGO_SERVICES__FILENAME=other.yaml`,
	}

	for _, env := range invalidEnvs {
		success, _, err := mungeFromEnvironment(&config, env)
		if err == nil || success {
			t.Errorf("accepted invalid env override `%s`", env)
		}
	}
	assertEqual(config.Server.Name, "services.example.com", t)
}

func TestDefaultConfig(t *testing.T) {
	config, err := LoadConfig("../default.yaml")
	if err != nil {
		t.Fatal(err)
	}

	assertEqual(config.throttle, throttle.Config{
		Address:        throttle.Limit{Burst: 5, Replenish: 2.0},
		AddressAccount: throttle.Limit{Burst: 3, Replenish: 5.0},
	}, t)
	assertEqual(config.Accounts.LoginThrottling.SweepInterval, time.Hour, t)
	assertEqual(config.registry.JoinFlags, registry.GAChanacs|registry.GAACLView, t)
	assertEqual(config.registry.HighPrivs, registry.CASet|registry.CARecover|registry.CAFlags, t)
	assertEqual(config.registry.MaxChanacs, 0, t)
	assertEqual(config.registry.MaxNameLen, 31, t)
	assertEqual(config.params.Iterations, 64000, t)
	assertEqual(config.params.SCRAM, true, t)
	assertEqual(config.sasl.MaxResponseSize, 8192, t)
	assertEqual(config.sasl.ImpersonateClasses, []string{"sra"}, t)
	if config.sasl.Cookies != nil {
		t.Errorf("authcookies are disabled in the default config")
	}
	assertEqual(len(config.Logging), 1, t)
	assertEqual(config.Logging[0].MethodStderr, true, t)
	assertEqual(config.Logging[0].ExcludedTypes, []string{"sasl"}, t)
}

func writeConfig(t *testing.T, contents string) string {
	filename := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(filename, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return filename
}

const minimalConfig = `
server:
    name: services.example.com
    network: ExampleNet
datastore:
    path: services.db
`

func TestMinimalConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(config.Datastore.SaveInterval, DefaultSaveInterval, t)
	assertEqual(config.Groups.ExpireInterval, DefaultExpireInterval, t)
	assertEqual(config.throttle, throttle.DefaultConfig(), t)
	assertEqual(config.registry.MaxChannels, registry.DefaultMaxChannels, t)
	assertEqual(config.Channels.HighPrivileges, DefaultHighPrivileges, t)
	assertEqual(config.params.Iterations, 64000, t)
}

func TestConfigErrors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "# nothing here\n"))
	assertEqual(err, ErrConfigEmpty, t)

	_, err = LoadConfig(writeConfig(t, "server:\n    network: ExampleNet\n"))
	assertEqual(err, ErrServerNameMissing, t)

	_, err = LoadConfig(writeConfig(t, minimalConfig+`
accounts:
    login-throttling:
        address-burst: 301
`))
	if !errors.Is(err, ErrThrottleOutOfRange) {
		t.Errorf("accepted out of range burst: %v", err)
	}

	_, err = LoadConfig(writeConfig(t, minimalConfig+`
accounts:
    login-throttling:
        address-account-replenish: 0.01
`))
	if !errors.Is(err, ErrThrottleOutOfRange) {
		t.Errorf("accepted out of range replenish: %v", err)
	}

	_, err = LoadConfig(writeConfig(t, minimalConfig+`
channels:
    high-privileges: "+"
`))
	if !errors.Is(err, ErrInvalidFlags) {
		t.Errorf("accepted empty high-privileges: %v", err)
	}

	_, err = LoadConfig(writeConfig(t, minimalConfig+`
accounts:
    pbkdf2:
        digest: md5
`))
	if err == nil {
		t.Errorf("accepted unknown digest")
	}

	_, err = LoadConfig(writeConfig(t, minimalConfig+`
metrics:
    enabled: true
`))
	assertEqual(err, ErrMetricsListenMissing, t)
}

func TestJoinFlagsNeverGrantFounder(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, minimalConfig+`
groups:
    join-flags: "+Fbc"
`))
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(config.registry.JoinFlags, registry.GAChanacs, t)
}
