// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"
	"github.com/ergochat/ergo-services/irc"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/passwd"
)

// set via linker flags, either by make or by goreleaser:
var commit = ""  // git hash
var version = "" // tagged version

// get a password from stdin from the user
func getPasswordFromTerminal() string {
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		log.Fatal("Error reading password:", err.Error())
	}
	return string(bytePassword)
}

// implements the `ergo-services genpasswd` command: prints a PBKDF2v2
// verifier for a password, using the configured parameters if a config
// file is available.
func doGenpasswd(configFile string) {
	params := passwd.DefaultParams()
	if config, err := irc.LoadConfig(configFile); err == nil {
		params = config.PasswordParams()
	}

	var password string
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print("Enter Password: ")
		password = getPasswordFromTerminal()
		fmt.Print("\n")
		fmt.Print("Reenter Password: ")
		confirm := getPasswordFromTerminal()
		fmt.Print("\n")
		if confirm != password {
			log.Fatal("passwords do not match")
		}
	} else {
		reader := bufio.NewReader(os.Stdin)
		text, _ := reader.ReadString('\n')
		password = strings.TrimSpace(text)
	}
	if _, err := passwd.Normalize(password); err != nil {
		log.Printf("WARNING: this password cannot be used with SCRAM: %v\n", err)
	}
	verifier, err := params.Generate(password)
	if err != nil {
		log.Fatal("encoding error:", err.Error())
	}
	fmt.Println(verifier)
}

func main() {
	irc.SetVersionString(version, commit)
	usage := `ergo-services.
Usage:
	ergo-services initdb [--conf <filename>] [--quiet]
	ergo-services upgradedb [--conf <filename>] [--quiet]
	ergo-services importdb <database.json> [--conf <filename>] [--quiet]
	ergo-services exportdb <database.json> [--conf <filename>] [--quiet]
	ergo-services genpasswd [--conf <filename>] [--quiet]
	ergo-services run [--conf <filename>] [--quiet] [--smoke]
	ergo-services -h | --help
	ergo-services --version
Options:
	--conf <filename>  Configuration file to use [default: services.yaml].
	--quiet            Don't show startup/shutdown lines.
	-h --help          Show this screen.
	--version          Show version.`

	arguments, _ := docopt.ParseArgs(usage, nil, irc.Ver)

	// don't require a config file for genpasswd
	if arguments["genpasswd"].(bool) {
		doGenpasswd(arguments["--conf"].(string))
		return
	}

	configfile := arguments["--conf"].(string)
	config, err := irc.LoadConfig(configfile)
	if err != nil {
		log.Fatal("Config file did not load successfully: ", err.Error())
	}

	logman, err := logger.NewManager(config.Logging)
	if err != nil {
		log.Fatal("Logger did not load successfully:", err.Error())
	}
	quiet := arguments["--quiet"].(bool)

	if arguments["initdb"].(bool) {
		err = irc.InitDB(config, logman)
		if err != nil {
			log.Fatal("Error while initializing db:", err.Error())
		}
		if !quiet {
			log.Println("database initialized: ", config.Datastore.Path)
		}
	} else if arguments["upgradedb"].(bool) {
		err = irc.UpgradeDB(config, logman)
		if err != nil {
			log.Fatal("Error while upgrading db:", err.Error())
		}
		if !quiet {
			log.Println("database upgraded: ", config.Datastore.Path)
		}
	} else if arguments["importdb"].(bool) {
		err = irc.ImportDB(config, logman, arguments["<database.json>"].(string))
		if err != nil {
			log.Fatal("Error while importing db:", err.Error())
		}
	} else if arguments["exportdb"].(bool) {
		err = irc.ExportDB(config, logman, arguments["<database.json>"].(string))
		if err != nil {
			log.Fatal("Error while exporting db:", err.Error())
		}
	} else if arguments["run"].(bool) {
		if !quiet {
			logman.Info("server", fmt.Sprintf("%s starting", irc.Ver))
		}

		// warning if running a non-final version
		if strings.Contains(irc.Ver, "unreleased") {
			logman.Warning("server", "You are currently running an unreleased beta version of ergo-services that may be unstable and could corrupt your database.")
		}

		services, err := irc.NewServices(config, logman)
		if err != nil {
			logman.Error("server", fmt.Sprintf("Could not load services: %s", err.Error()))
			os.Exit(1)
		}
		if arguments["--smoke"].(bool) {
			services.Close()
		} else {
			services.Run()
		}
	}
}
