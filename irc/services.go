// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package irc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"time"

	"github.com/okzk/sdnotify"

	"github.com/ergochat/ergo-services/irc/datastore"
	"github.com/ergochat/ergo-services/irc/flock"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/metrics"
	"github.com/ergochat/ergo-services/irc/passwd"
	"github.com/ergochat/ergo-services/irc/registry"
	"github.com/ergochat/ergo-services/irc/sasl"
	"github.com/ergochat/ergo-services/irc/throttle"
	"github.com/ergochat/ergo-services/irc/utils"
)

const (
	storeTimeout = 30 * time.Second
)

// Services owns the registry, the login throttle and the SASL manager.
// None of them is safe for concurrent use, so they are only touched from
// the goroutine executing Run; other goroutines submit work with Do.
type Services struct {
	config   *Config
	logger   *logger.Manager
	registry *registry.Registry
	throttle *throttle.LoginThrottle
	sasl     *sasl.Manager
	store    datastore.Store
	metrics  *metrics.Metrics
	exporter *metrics.Exporter
	flock    flock.Flocker

	// in-progress AUTHENTICATE exchanges by connection ID
	conversations map[string]*sasl.Conversation

	tasks           chan func()
	exitSignals     chan os.Signal
	rehashSignal    chan os.Signal
	tracebackSignal chan os.Signal
	stopRequested   chan struct{}
	stopOnce        sync.Once
	done            chan struct{}

	sweepTicker  *time.Ticker
	expireTicker *time.Ticker
	saveTicker   *time.Ticker
}

// NewServices locks and opens the configured datastore and loads the
// registry from it.
func NewServices(config *Config, logger *logger.Manager) (services *Services, err error) {
	flocker, err := flock.TryAcquireFlock(flock.LockPath(config.Datastore.Path))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			flocker.Unlock()
		}
	}()

	store, err := OpenStore(config, logger)
	if err != nil {
		return nil, err
	}
	services, err = newServices(config, logger, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	services.flock = flocker
	return services, nil
}

func newServices(config *Config, logger *logger.Manager, store datastore.Store) (*Services, error) {
	reg := registry.NewRegistry(config.registry, logger)
	services := &Services{
		config:          config,
		logger:          logger,
		registry:        reg,
		throttle:        throttle.NewLoginThrottle(config.throttle),
		sasl:            sasl.NewManager(reg, logger, config.sasl),
		store:           store,
		metrics:         metrics.New(),
		conversations:   make(map[string]*sasl.Conversation),
		tasks:           make(chan func()),
		exitSignals:     make(chan os.Signal, len(utils.ExitSignals)),
		rehashSignal:    make(chan os.Signal, 1),
		tracebackSignal: make(chan os.Signal, 1),
		stopRequested:   make(chan struct{}),
		done:            make(chan struct{}),
	}
	services.registerHooks()

	if err := services.load(); err != nil {
		return nil, err
	}
	services.warnIterations(config)

	if config.Metrics.Enabled {
		exporter, err := services.metrics.Serve(config.Metrics.Listen, logger)
		if err != nil {
			return nil, fmt.Errorf("Could not start metrics listener: %w", err)
		}
		services.exporter = exporter
	}
	return services, nil
}

func (services *Services) registerHooks() {
	hooks := &services.registry.Hooks
	hooks.UserCanLogin.Add(services.throttleLogin)
	hooks.ChannelSuccession.Add(func(event *registry.ChannelSuccessionEvent) {
		services.metrics.Succession("channel")
	})
	hooks.GroupSuccession.Add(func(event *registry.GroupSuccessionEvent) {
		services.metrics.Succession("group")
	})
	hooks.CredentialUpgrade.Add(func(event *registry.CredentialUpgradeEvent) {
		services.logger.Debug("accounts", "Credential of", event.Account.Name(), "will be persisted on next save")
	})
	services.sasl.AddObserver(func(mechanism string, status sasl.Status) {
		services.metrics.ObserveSASL(mechanism, status.String())
	})
}

// throttleLogin applies the login throttle to password-based logins that
// no earlier hook has refused.
func (services *Services) throttleLogin(event *registry.LoginCheckEvent) {
	if !event.PasswordBased || !event.Allowed {
		return
	}
	now := float64(event.Time.UnixNano()) / float64(time.Second)
	denied, dimension := services.throttle.CheckLogin(event.IP, event.Account.ID(), now)
	if !denied {
		return
	}
	event.Allowed = false
	event.Reason = "LOGIN:THROTTLE:" + dimension
	services.logger.Info("throttle", fmt.Sprintf("%s: %s (%s)", event.Reason, event.Account.Name(), event.IP))
	services.metrics.Throttled(dimension)
}

func (services *Services) load() error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	rows, err := services.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("Could not load datastore: %w", err)
	}
	stats, err := services.registry.LoadSnapshot(rows)
	if err != nil {
		return fmt.Errorf("Could not load datastore: %w", err)
	}
	counts := services.registry.Stats()
	services.logger.Info("datastore", fmt.Sprintf("Loaded %d rows (%d skipped): %d accounts, %d groups, %d channels",
		stats.Rows, stats.Skipped, counts.Accounts, counts.Groups, counts.Channels))
	services.updateGauges()
	return nil
}

func (services *Services) warnIterations(config *Config) {
	if config.params.Iterations > passwd.CyrusIterationLimit {
		services.logger.Warning("accounts", fmt.Sprintf("PBKDF2 iteration count %d exceeds %d; some SCRAM clients will refuse it",
			config.params.Iterations, passwd.CyrusIterationLimit))
	}
}

func (services *Services) updateGauges() {
	stats := services.registry.Stats()
	services.metrics.SetRegistrySize(stats.Accounts, stats.Groups, stats.Channels)
	services.metrics.SetThrottleBuckets(services.throttle.Size())
}

// Run executes submitted tasks and periodic maintenance until Stop is
// called or an exit signal arrives. The datastore is saved before Run
// returns.
func (services *Services) Run() {
	signal.Notify(services.exitSignals, utils.ExitSignals...)
	if len(utils.RehashSignals) != 0 {
		signal.Notify(services.rehashSignal, utils.RehashSignals...)
	}
	if len(utils.TracebackSignals) != 0 {
		signal.Notify(services.tracebackSignal, utils.TracebackSignals...)
	}
	defer signal.Stop(services.exitSignals)
	defer signal.Stop(services.rehashSignal)
	defer signal.Stop(services.tracebackSignal)

	services.resetTickers()
	defer services.stopTickers()

	sdnotify.Ready()
	services.logger.Info("server", "Services running", Ver)

	for {
		select {
		case <-services.exitSignals:
			services.logger.Info("server", "Shutting down due to signal")
			services.shutdown()
			return
		case <-services.stopRequested:
			services.shutdown()
			return
		case <-services.rehashSignal:
			services.logger.Info("rehash", "Rehashing due to signal")
			if err := services.rehash(); err != nil {
				services.logger.Error("rehash", "Failed to rehash:", err.Error())
			}
		case <-services.tracebackSignal:
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			services.logger.Info("server", "Traceback requested:\n", string(buf[:n]))
		case task := <-services.tasks:
			services.runTask(task)
		case <-services.sweepTicker.C:
			services.sweep()
		case <-services.expireTicker.C:
			if dropped := services.registry.ExpireGroups(); dropped != 0 {
				services.logger.Info("groups", fmt.Sprintf("Expired %d groups", dropped))
			}
		case <-services.saveTicker.C:
			services.save()
		}
	}
}

func (services *Services) runTask(task func()) {
	defer services.HandlePanic()
	task()
}

func (services *Services) resetTickers() {
	services.stopTickers()
	services.sweepTicker = time.NewTicker(services.config.Accounts.LoginThrottling.SweepInterval)
	services.expireTicker = time.NewTicker(services.config.Groups.ExpireInterval)
	services.saveTicker = time.NewTicker(services.config.Datastore.SaveInterval)
}

func (services *Services) stopTickers() {
	for _, ticker := range []*time.Ticker{services.sweepTicker, services.expireTicker, services.saveTicker} {
		if ticker != nil {
			ticker.Stop()
		}
	}
}

func (services *Services) sweep() {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	removed := services.throttle.Sweep(now)
	services.logger.Debug("throttle", fmt.Sprintf("Swept %d idle login throttle buckets", removed))
	services.metrics.SetThrottleBuckets(services.throttle.Size())
}

// Do runs `task` on the services goroutine and waits for it to finish.
func (services *Services) Do(task func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		task()
	}
	select {
	case services.tasks <- wrapped:
	case <-services.done:
		return errServicesStopped
	}
	<-finished
	return nil
}

// Stop asks Run to save and exit, and waits until it has.
func (services *Services) Stop() {
	services.stopOnce.Do(func() {
		close(services.stopRequested)
	})
	<-services.done
}

// Close saves and releases the datastore of a Services that was never run.
func (services *Services) Close() {
	select {
	case <-services.done:
		return
	default:
	}
	services.stopOnce.Do(func() {
		close(services.stopRequested)
	})
	services.shutdown()
}

func (services *Services) shutdown() {
	sdnotify.Stopping()
	for id, conversation := range services.conversations {
		conversation.Abort()
		delete(services.conversations, id)
	}
	services.save()
	if err := services.store.Close(); err != nil {
		services.logger.Error("datastore", "Could not close datastore:", err.Error())
	}
	if services.flock != nil {
		services.flock.Unlock()
	}
	if services.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		services.exporter.Stop(ctx)
		cancel()
	}
	close(services.done)
}

func (services *Services) save() (err error) {
	var snapshot datastore.Snapshot
	if err = services.registry.WriteSnapshot(&snapshot); err != nil {
		services.logger.Error("datastore", "Could not serialize registry:", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err = services.store.SaveSnapshot(ctx, snapshot.Rows); err != nil {
		services.logger.Error("datastore", "Could not save datastore:", err.Error())
		return
	}
	services.logger.Debug("datastore", fmt.Sprintf("Saved %d rows", len(snapshot.Rows)))
	services.updateGauges()
	return nil
}

// Save writes the registry to the datastore immediately.
func (services *Services) Save() (err error) {
	if doErr := services.Do(func() { err = services.save() }); doErr != nil {
		return doErr
	}
	return
}

// Rehash reloads the config file.
func (services *Services) Rehash() (err error) {
	if doErr := services.Do(func() { err = services.rehash() }); doErr != nil {
		return doErr
	}
	return
}

func (services *Services) rehash() error {
	sdnotify.Reloading()
	defer sdnotify.Ready()

	config, err := LoadConfig(services.config.Filename)
	if err != nil {
		return fmt.Errorf("Error loading config file config: %w", err)
	}
	return services.applyConfig(config)
}

func (services *Services) applyConfig(config *Config) error {
	// enforce configs that can't be changed after launch:
	if config.Datastore.Path != services.config.Datastore.Path ||
		config.Datastore.MySQL != services.config.Datastore.MySQL {
		return ErrDatastorePathChanged
	}
	if err := services.logger.ApplyConfig(config.Logging); err != nil {
		return err
	}
	services.registry.SetConfig(config.registry)
	services.throttle.SetConfig(config.throttle)
	services.sasl.SetConfig(config.sasl)
	services.warnIterations(config)
	if config.Metrics != services.config.Metrics {
		services.logger.Warning("rehash", "Metrics listener changes take effect on restart")
	}
	services.config = config
	services.resetTickers()
	services.logger.Info("rehash", "Rehash completed successfully")
	return nil
}

// Stats returns the registry size.
func (services *Services) Stats() (stats registry.Stats, err error) {
	err = services.Do(func() { stats = services.registry.Stats() })
	return
}

// LoginResult is what the transport reports after an AUTHENTICATE line.
type LoginResult struct {
	sasl.Reply
	// Account is set when the exchange ended in a successful login
	Account string
}

// Authenticate processes the parameter of an AUTHENTICATE command from
// the connection `connID`. The first parameter of an exchange names the
// mechanism.
func (services *Services) Authenticate(connID, ip, certfp, param string) (result LoginResult, err error) {
	err = services.Do(func() {
		conversation := services.conversations[connID]
		if conversation == nil {
			conversation = services.sasl.NewConversation(&sasl.Session{ID: connID, IP: ip, Certfp: certfp})
			services.conversations[connID] = conversation
		}
		result.Reply = conversation.Authenticate(param)
		if result.Outcome == sasl.OutcomeContinue {
			return
		}
		if account := conversation.Session().Account; result.Outcome == sasl.OutcomeSuccess && account != nil {
			result.Account = account.Name()
		}
		delete(services.conversations, connID)
	})
	return
}

// Disconnect abandons any exchange in progress on the connection.
func (services *Services) Disconnect(connID string) error {
	return services.Do(func() {
		if conversation := services.conversations[connID]; conversation != nil {
			conversation.Abort()
			delete(services.conversations, connID)
		}
	})
}

// LoginByPassphrase checks a password login made outside SASL (e.g.,
// NickServ IDENTIFY). It is throttled like SASL PLAIN.
func (services *Services) LoginByPassphrase(ip, accountName, passphrase string) (account string, status sasl.Status, err error) {
	err = services.Do(func() {
		session := &sasl.Session{IP: ip}
		status = services.sasl.LoginByPassphrase(session, accountName, passphrase)
		if session.Account != nil {
			account = session.Account.Name()
		}
	})
	return
}

// RegisterAccount creates an account with a verifier derived from
// `passphrase` using the configured PBKDF2 parameters.
func (services *Services) RegisterAccount(name, passphrase, email string) (err error) {
	verifier, err := services.config.params.Generate(passphrase)
	if err != nil {
		return err
	}
	doErr := services.Do(func() {
		_, err = services.registry.RegisterAccount(name, verifier, email)
	})
	if doErr != nil {
		return doErr
	}
	return
}

// RegisterChannel registers `channel` to the account or group `founder`.
func (services *Services) RegisterChannel(channel, founder string) (err error) {
	doErr := services.Do(func() {
		entity := services.registry.FindEntity(founder)
		if entity == nil {
			err = errAccountDoesNotExist
			return
		}
		_, err = services.registry.RegisterChannel(channel, entity)
	})
	if doErr != nil {
		return doErr
	}
	return
}

// RegisterGroup registers `group` with the account `founder` as founder.
func (services *Services) RegisterGroup(group, founder string) (err error) {
	doErr := services.Do(func() {
		account := services.registry.FindAccount(founder)
		if account == nil {
			err = errAccountDoesNotExist
			return
		}
		_, err = services.registry.RegisterGroup(group, account)
	})
	if doErr != nil {
		return doErr
	}
	return
}

// Requester identifies who issues a command: the account the connection
// is logged into (empty if none) and its nick!user@host masks.
type Requester struct {
	Account   string
	Hostmasks []string
	// Override is set for services operators acting with override privileges
	Override bool
}

func (services *Services) source(requester Requester) (source registry.Source, err error) {
	if requester.Account != "" {
		source.Account = services.registry.FindAccount(requester.Account)
		if source.Account == nil {
			return source, errNoSuchSetter
		}
	}
	source.Hostmasks = requester.Hostmasks
	source.Override = requester.Override
	return source, nil
}

// CheckFlag reports whether the requester holds every flag letter in
// `flags` on the channel.
func (services *Services) CheckFlag(channel string, requester Requester, flags string) (allowed bool, err error) {
	doErr := services.Do(func() {
		mc := services.registry.FindChannel(channel)
		if mc == nil {
			err = errChannelNotFound
			return
		}
		flag, _ := registry.ParseChannelFlags(flags)
		if flag == registry.CANone {
			err = errInvalidFlags
			return
		}
		var source registry.Source
		if source, err = services.source(requester); err != nil {
			return
		}
		allowed = services.registry.CheckFlag(mc, source, flag)
	})
	if doErr != nil {
		return false, doErr
	}
	return
}

func aclChangeResult(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, registry.ErrInsufficientPrivileges):
		return "denied"
	case errors.Is(err, registry.ErrChangeVetoed):
		return "vetoed"
	case errors.Is(err, registry.ErrACLTableFull):
		return "full"
	case errors.Is(err, registry.ErrNoChange):
		return "unchanged"
	default:
		return "error"
	}
}

// ChangeChannelAccess applies a flag change such as "+oi-v" to the entry
// of `target` (an entity name or a hostmask) on the channel. It returns
// the resulting flags, empty when the entry was removed.
func (services *Services) ChangeChannelAccess(channel, target, change string, requester Requester) (flags string, err error) {
	doErr := services.Do(func() {
		defer func() {
			services.metrics.ACLChange(aclChangeResult(err))
		}()
		mc := services.registry.FindChannel(channel)
		if mc == nil {
			err = errChannelNotFound
			return
		}
		add, remove := registry.ParseChannelFlags(change)
		if add|remove == registry.CANone {
			err = errInvalidFlags
			return
		}
		var source registry.Source
		if source, err = services.source(requester); err != nil {
			return
		}
		var resolved registry.Target
		if resolved, err = services.registry.ResolveTarget(target); err != nil {
			return
		}
		var ca *registry.ChannelAccess
		if ca, err = services.registry.SetFlags(mc, resolved, add, remove, source); err == nil && ca != nil {
			flags = ca.Flags.String()
		}
	})
	if doErr != nil {
		return "", doErr
	}
	return
}

// ChangeGroupAccess applies a flag change such as "+A-c" to the membership
// of `member` in the group. It returns the resulting flags, empty when the
// membership was removed.
func (services *Services) ChangeGroupAccess(group, member, change string, requester Requester) (flags string, err error) {
	doErr := services.Do(func() {
		defer func() {
			services.metrics.ACLChange(aclChangeResult(err))
		}()
		g := services.registry.FindGroup(group)
		if g == nil {
			err = errGroupNotFound
			return
		}
		entity := services.registry.FindEntity(member)
		if entity == nil {
			err = errAccountDoesNotExist
			return
		}
		var source registry.Source
		if source, err = services.source(requester); err != nil {
			return
		}
		var current registry.GroupACLFlags
		if ga := registry.FindGroupMember(g, entity); ga != nil {
			current = ga.Flags
		}
		wanted := registry.ParseGroupFlags(change, true, current)
		var ga *registry.GroupAccess
		ga, err = services.registry.SetGroupFlags(g, entity, wanted&^current, current&^wanted, source)
		if err == nil && ga != nil {
			flags = ga.Flags.String()
		}
	})
	if doErr != nil {
		return "", doErr
	}
	return
}
