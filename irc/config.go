// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/ergochat/ergo-services/irc/digest"
	"github.com/ergochat/ergo-services/irc/jwt"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/metrics"
	"github.com/ergochat/ergo-services/irc/mysql"
	"github.com/ergochat/ergo-services/irc/passwd"
	"github.com/ergochat/ergo-services/irc/registry"
	"github.com/ergochat/ergo-services/irc/sasl"
	"github.com/ergochat/ergo-services/irc/throttle"
	"github.com/ergochat/ergo-services/irc/utils"
)

// here's how this works: exported (capitalized) members of the config structs
// are defined in the YAML file and deserialized directly from there. They may
// be postprocessed and overwritten by LoadConfig. Unexported (lowercase) members
// are derived from the exported members in LoadConfig.

const (
	DefaultSaveInterval       = 5 * time.Minute
	DefaultSweepInterval      = time.Hour
	DefaultExpireInterval     = time.Hour
	DefaultHighPrivileges     = "sRf"
	DefaultGroupJoinFlags     = "+cA"
	DefaultMaxResponseSizeStr = "8k"
)

type PBKDF2Config struct {
	Digest     string
	Iterations int
	SaltLength int   `yaml:"salt-length"`
	SCRAM      *bool `yaml:"scram"`
}

// ThrottleConfig sets both login throttle dimensions; a burst of 0 is
// meaningful, so unset bursts are distinguished by the pointer.
type ThrottleConfig struct {
	AddressBurst            *uint         `yaml:"address-burst"`
	AddressReplenish        float64       `yaml:"address-replenish"`
	AddressAccountBurst     *uint         `yaml:"address-account-burst"`
	AddressAccountReplenish float64       `yaml:"address-account-replenish"`
	SweepInterval           time.Duration `yaml:"sweep-interval"`
}

type AccountConfig struct {
	MaxNameLength   int `yaml:"max-name-length"`
	MaxPerEmail     int `yaml:"max-per-email"`
	MaxChannels     int `yaml:"max-channels"`
	MaxNicks        int `yaml:"max-nicks"`
	PBKDF2          PBKDF2Config
	LoginThrottling ThrottleConfig `yaml:"login-throttling"`
}

type ChannelConfig struct {
	MaxChanacs     int    `yaml:"max-chanacs"`
	HighPrivileges string `yaml:"high-privileges"`
}

type GroupConfig struct {
	MaxGroups        int           `yaml:"max-groups"`
	MaxGroupacs      int           `yaml:"max-groupacs"`
	EnableOpenGroups bool          `yaml:"enable-open-groups"`
	JoinFlags        string        `yaml:"join-flags"`
	ExpireInterval   time.Duration `yaml:"expire-interval"`
}

type SASLConfig struct {
	Mechanisms         []string
	MaxResponseSize    string   `yaml:"max-response-size"`
	ImpersonateClasses []string `yaml:"impersonate-classes"`
	Authcookie         jwt.CookieConfig
}

// Config defines the overall configuration.
type Config struct {
	Server struct {
		Name    string
		Network string
	}

	Datastore struct {
		Path         string
		AutoUpgrade  bool          `yaml:"autoupgrade"`
		SaveInterval time.Duration `yaml:"save-interval"`
		MySQL        mysql.Config  `yaml:"mysql"`
	}

	Accounts AccountConfig
	Channels ChannelConfig
	Groups   GroupConfig
	SASL     SASLConfig `yaml:"sasl"`
	Metrics  metrics.Config
	Logging  []logger.LoggingConfig

	Filename string `yaml:"-"`

	registry registry.Config
	throttle throttle.Config
	params   passwd.Params
	sasl     sasl.Config
}

// LoadRawConfig reads and parses the file without postprocessing it.
func LoadRawConfig(filename string) (config *Config, err error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, ErrConfigEmpty
	}
	return
}

const envPrefix = "ERGO_SERVICES__"

type configPathError struct {
	name     string
	desc     string
	fatalErr error
}

func (ce *configPathError) Error() string {
	if ce.fatalErr != nil {
		return fmt.Sprintf("Couldn't apply config override `%s`: %s: %v", ce.name, ce.desc, ce.fatalErr)
	}
	return fmt.Sprintf("Couldn't apply config override `%s`: %s", ce.name, ce.desc)
}

func yamlFieldName(field reflect.StructField) string {
	if tag := field.Tag.Get("yaml"); tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}
	return strings.ToLower(field.Name)
}

// mungeFromEnvironment applies an override such as
// ERGO_SERVICES__DATASTORE__SAVE_INTERVAL=10m to the config. The value is
// parsed as YAML into the named field.
func mungeFromEnvironment(config *Config, envPair string) (applied bool, name string, err error) {
	name, value, found := strings.Cut(envPair, "=")
	if !found || !strings.HasPrefix(name, envPrefix) {
		return false, "", nil
	}

	pathComponents := strings.Split(name[len(envPrefix):], "__")
	for i, pathComponent := range pathComponents {
		if pathComponent == "" {
			return false, "", &configPathError{name, "invalid", nil}
		}
		pathComponents[i] = strings.ToLower(strings.ReplaceAll(pathComponent, "_", "-"))
	}

	v := reflect.ValueOf(config).Elem()
	for _, component := range pathComponents {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return false, "", &configPathError{name, "index into non-struct", nil}
		}
		t := v.Type()
		fieldIdx := -1
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if fieldName := yamlFieldName(field); field.IsExported() && fieldName != "-" && fieldName == component {
				fieldIdx = i
				break
			}
		}
		if fieldIdx == -1 {
			return false, "", &configPathError{name, "nonexistent or private field", nil}
		}
		v = v.Field(fieldIdx)
	}

	yamlErr := yaml.Unmarshal([]byte(value), v.Addr().Interface())
	if yamlErr != nil {
		return false, "", &configPathError{name, "couldn't deserialize YAML", yamlErr}
	}
	return true, name, nil
}

// LoadConfig loads the given YAML configuration file, then applies any
// ERGO_SERVICES__ overrides from the environment.
func LoadConfig(filename string) (config *Config, err error) {
	config, err = LoadRawConfig(filename)
	if err != nil {
		return nil, err
	}
	for _, envPair := range os.Environ() {
		if _, _, err := mungeFromEnvironment(config, envPair); err != nil {
			return nil, err
		}
	}
	config.Filename = filename
	err = config.postprocess()
	if err != nil {
		return nil, err
	}
	return config, nil
}

func (config *Config) postprocess() (err error) {
	if config.Server.Name == "" {
		return ErrServerNameMissing
	}
	if config.Server.Network == "" {
		return ErrNetworkNameMissing
	}
	if config.Datastore.Path == "" {
		return ErrDatastorePathMissing
	}
	if config.Datastore.SaveInterval == 0 {
		config.Datastore.SaveInterval = DefaultSaveInterval
	}

	if err = config.processLogging(); err != nil {
		return err
	}
	if err = config.processPBKDF2(); err != nil {
		return err
	}
	if err = config.processThrottling(); err != nil {
		return err
	}
	if err = config.processRegistry(); err != nil {
		return err
	}
	if err = config.processSASL(); err != nil {
		return err
	}
	if config.Metrics.Enabled && config.Metrics.Listen == "" {
		return ErrMetricsListenMissing
	}
	return nil
}

// PasswordParams returns the parameters for newly generated verifiers.
func (config *Config) PasswordParams() passwd.Params {
	return config.params
}

func (config *Config) processLogging() error {
	var newLogConfigs []logger.LoggingConfig
	for _, logConfig := range config.Logging {
		// methods
		methods := make(map[string]bool)
		for _, method := range strings.Split(logConfig.Method, " ") {
			if len(method) > 0 {
				methods[strings.ToLower(method)] = true
			}
		}
		if methods["file"] && logConfig.Filename == "" {
			return ErrLoggerFilenameMissing
		}
		logConfig.MethodFile = methods["file"]
		logConfig.MethodStdout = methods["stdout"]
		logConfig.MethodStderr = methods["stderr"]

		// levels
		level, exists := logger.LogLevelNames[strings.ToLower(logConfig.LevelString)]
		if !exists {
			return fmt.Errorf("Could not translate log level [%s]", logConfig.LevelString)
		}
		logConfig.Level = level

		// types
		var err error
		logConfig.Types, logConfig.ExcludedTypes, err = logger.ParseTypeString(logConfig.TypeString)
		if err != nil {
			return err
		}

		newLogConfigs = append(newLogConfigs, logConfig)
	}
	config.Logging = newLogConfigs
	return nil
}

func (config *Config) processPBKDF2() (err error) {
	conf := config.Accounts.PBKDF2
	params := passwd.DefaultParams()
	if conf.Digest != "" {
		params.Digest, err = digest.AlgorithmByName(conf.Digest)
		if err != nil {
			return fmt.Errorf("Invalid pbkdf2 digest [%s]: %w", conf.Digest, err)
		}
	}
	if conf.Iterations != 0 {
		params.Iterations = conf.Iterations
	}
	if conf.SaltLength != 0 {
		params.SaltLength = conf.SaltLength
	}
	params.SCRAM = utils.BoolDefaultTrue(conf.SCRAM)
	if err = params.Validate(); err != nil {
		return fmt.Errorf("Invalid pbkdf2 configuration: %w", err)
	}
	config.params = params
	return nil
}

func checkBurst(burst *uint, name string) (uint, error) {
	if burst == nil {
		return throttle.DefaultBurst, nil
	}
	if *burst > throttle.MaxBurst {
		return 0, fmt.Errorf("%w: %s must be between %d and %d", ErrThrottleOutOfRange, name, throttle.MinBurst, throttle.MaxBurst)
	}
	return *burst, nil
}

func checkReplenish(replenish float64, name string) (float64, error) {
	if replenish == 0 {
		return throttle.DefaultReplenish, nil
	}
	if replenish < throttle.MinReplenish || replenish > throttle.MaxReplenish {
		return 0, fmt.Errorf("%w: %s must be between %v and %v", ErrThrottleOutOfRange, name, throttle.MinReplenish, throttle.MaxReplenish)
	}
	return replenish, nil
}

func (config *Config) processThrottling() (err error) {
	conf := &config.Accounts.LoginThrottling
	var result throttle.Config
	if result.Address.Burst, err = checkBurst(conf.AddressBurst, "address-burst"); err != nil {
		return
	}
	if result.Address.Replenish, err = checkReplenish(conf.AddressReplenish, "address-replenish"); err != nil {
		return
	}
	if result.AddressAccount.Burst, err = checkBurst(conf.AddressAccountBurst, "address-account-burst"); err != nil {
		return
	}
	if result.AddressAccount.Replenish, err = checkReplenish(conf.AddressAccountReplenish, "address-account-replenish"); err != nil {
		return
	}
	if conf.SweepInterval == 0 {
		conf.SweepInterval = DefaultSweepInterval
	}
	config.throttle = result
	return nil
}

func (config *Config) processRegistry() error {
	result := registry.DefaultConfig()
	accounts := config.Accounts
	if accounts.MaxNameLength != 0 {
		result.MaxNameLen = accounts.MaxNameLength
	}
	if accounts.MaxPerEmail != 0 {
		result.MaxPerEmail = accounts.MaxPerEmail
	}
	if accounts.MaxChannels != 0 {
		result.MaxChannels = accounts.MaxChannels
	}
	if accounts.MaxNicks != 0 {
		result.MaxNicks = accounts.MaxNicks
	}

	if config.Channels.MaxChanacs != 0 {
		result.MaxChanacs = config.Channels.MaxChanacs
	}
	if config.Channels.HighPrivileges == "" {
		config.Channels.HighPrivileges = DefaultHighPrivileges
	}
	highPrivs, _ := registry.ParseChannelFlags(config.Channels.HighPrivileges)
	if highPrivs == registry.CANone {
		return fmt.Errorf("%w: [%s]", ErrInvalidFlags, config.Channels.HighPrivileges)
	}
	result.HighPrivs = highPrivs

	groups := &config.Groups
	if groups.MaxGroupacs != 0 {
		result.MaxGroupacs = groups.MaxGroupacs
	}
	if groups.MaxGroups != 0 {
		result.MaxGroups = groups.MaxGroups
	}
	result.EnableOpenGroups = groups.EnableOpenGroups
	if groups.JoinFlags == "" {
		groups.JoinFlags = DefaultGroupJoinFlags
	}
	result.JoinFlags = registry.ParseGroupFlags(groups.JoinFlags, false, registry.GANone)
	// founder and ban are never handed out by joining
	result.JoinFlags &^= registry.GAFounder | registry.GABan
	if groups.ExpireInterval == 0 {
		groups.ExpireInterval = DefaultExpireInterval
	}

	config.registry = result
	return nil
}

func (config *Config) processSASL() error {
	conf := &config.SASL
	if conf.MaxResponseSize == "" {
		conf.MaxResponseSize = DefaultMaxResponseSizeStr
	}
	maxResponseSize, err := bytefmt.ToBytes(conf.MaxResponseSize)
	if err != nil {
		return fmt.Errorf("Could not parse maximum SASL response size (make sure it only contains whole numbers): %s", err.Error())
	}
	if err = conf.Authcookie.Postprocess(); err != nil {
		return err
	}
	mechanisms := make([]string, len(conf.Mechanisms))
	for i, mech := range conf.Mechanisms {
		mechanisms[i] = strings.ToUpper(mech)
	}
	var cookies *jwt.CookieConfig
	if conf.Authcookie.Enabled {
		cookies = &conf.Authcookie
	}
	config.sasl = sasl.Config{
		Mechanisms:         mechanisms,
		MaxResponseSize:    int(maxResponseSize),
		ImpersonateClasses: conf.ImpersonateClasses,
		Params:             config.params,
		Cookies:            cookies,
	}
	return nil
}
