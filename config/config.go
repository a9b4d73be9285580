// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
)

const (
	// DefaultConfigFilename is the default configuration file name.
	DefaultConfigFilename = "contestd.conf"

	// DefaultDataDirname is the default data directory name. The data
	// directory is located in the application home directory.
	DefaultDataDirname = "data"

	// DefaultLogDirname is the default log directory name.
	DefaultLogDirname = "logs"

	// DefaultLogFilename is the default log file name.
	DefaultLogFilename = "contestd.log"

	defaultDebugLevel = "info"

	// Phase deadline defaults.
	defaultContestDuration       = 7 * 24 * time.Hour
	defaultVotingDuration        = 2 * 24 * time.Hour
	defaultSuggestionCollect     = 3 * 24 * time.Hour
	defaultSuggestionVoting      = 24 * time.Hour
	defaultTaskSelectionDuration = 2 * 24 * time.Hour

	// Quorum defaults.
	defaultMinEntries     = 2
	defaultMinVoters      = 2
	defaultPostponeQuorum = 3
	defaultAdminQuorum    = 2

	// Ballot value range defaults.
	defaultContestVoteMin    = 1
	defaultContestVoteMax    = 5
	defaultSuggestionVoteMin = -1
	defaultSuggestionVoteMax = 1

	// Wallet defaults, in pesnocents.
	defaultSubmissionReward = 100
	defaultSuggestionReward = 30
	defaultVoteReward       = 10
	defaultPostponeCost     = 50

	// Scheduling defaults.
	defaultPollInterval   = 15 * time.Second
	defaultPreviewWindow  = 6 * time.Hour
	defaultNotifyInterval = 3 * time.Second
	defaultRelayInterval  = 30 * time.Second
)

var (
	// DefaultHomeDir points to contestd's default home directory.
	DefaultHomeDir = appDataDir()

	// DefaultConfigFile points to contestd's default config file path.
	DefaultConfigFile = filepath.Join(DefaultHomeDir, DefaultConfigFilename)

	// DefaultDataDir points to contestd's default data directory path.
	DefaultDataDir = filepath.Join(DefaultHomeDir, DefaultDataDirname)

	// DefaultLogDir points to contestd's default log directory path.
	DefaultLogDir = filepath.Join(DefaultHomeDir, DefaultLogDirname)

	// SecretFields names the config options that carry credentials.
	// Anything that echoes configuration must redact these.
	SecretFields = []string{
		"transporttoken",
	}
)

// Config defines the configuration options for contestd.
type Config struct {
	HomeDir     string `short:"A" long:"appdata" description:"Path to application home directory"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Phase deadlines
	ContestDuration       time.Duration `long:"contestduration" description:"How long submissions are accepted"`
	VotingDuration        time.Duration `long:"votingduration" description:"How long contest ballots are accepted"`
	SuggestionCollect     time.Duration `long:"suggestioncollect" description:"How long task suggestions are accepted"`
	SuggestionVoting      time.Duration `long:"suggestionvoting" description:"How long suggestion ballots are accepted"`
	TaskSelectionDuration time.Duration `long:"taskselection" description:"How long the winner has to pick the next task"`

	// Quorums
	MinEntries     int `long:"minentries" description:"Minimum submissions required to open voting"`
	MinVoters      int `long:"minvoters" description:"Minimum distinct voters required to finalize voting"`
	PostponeQuorum int `long:"postponequorum" description:"Distinct requesters required to extend a deadline"`
	AdminQuorum    int `long:"adminquorum" description:"Distinct inner-circle admins required to approve or decline a task"`

	// Ballot value ranges
	ContestVoteMin    int64 `long:"contestvotemin" description:"Minimum contest ballot value"`
	ContestVoteMax    int64 `long:"contestvotemax" description:"Maximum contest ballot value"`
	SuggestionVoteMin int64 `long:"suggestionvotemin" description:"Minimum suggestion ballot value"`
	SuggestionVoteMax int64 `long:"suggestionvotemax" description:"Maximum suggestion ballot value"`

	// Wallet amounts, in pesnocents
	SubmissionReward int64 `long:"submissionreward" description:"Pesnocents credited for a contest submission"`
	SuggestionReward int64 `long:"suggestionreward" description:"Pesnocents credited for a task suggestion"`
	VoteReward       int64 `long:"votereward" description:"Pesnocents credited for a first ballot on an entry"`
	PostponeCost     int64 `long:"postponecost" description:"Pesnocents debited when a postpone request is satisfied"`

	// Scheduling
	PollInterval   time.Duration `long:"pollinterval" description:"Deadline poll period"`
	PreviewWindow  time.Duration `long:"previewwindow" description:"How long before a deadline the approaching notification fires"`
	NotifyInterval time.Duration `long:"notifyinterval" description:"Minimum gap between outbound notification bursts"`
	RelayInterval  time.Duration `long:"relayinterval" description:"Outbox relay poll period"`

	// Transport and mirror targets
	ChannelID      int64    `long:"channelid" description:"Chat id announcements are sent to"`
	AdminChatID    int64    `long:"adminchatid" description:"Chat id inner-circle prompts are sent to"`
	InnerCircle    []string `long:"inneradmin" description:"User id of an inner-circle admin; may be specified multiple times"`
	RandomTasks    []string `long:"randomtask" description:"Task template for the random fallback pool; may be specified multiple times"`
	MirrorURL      string   `long:"mirrorurl" description:"URL domain events are mirrored to via the outbox relay"`
	TransportURL   string   `long:"transporturl" description:"Base URL of the chat transport API; notifications are logged instead of sent when unset"`
	TransportToken string   `long:"transporttoken" description:"Chat transport credential"`

	// EncryptionKey is the file containing the key used to encrypt
	// records at rest.
	EncryptionKey string `long:"encryptionkey" description:"File containing the encryption key used for protecting records at rest"`
}

func appDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".contestd")
}

func defaultConfig() *Config {
	return &Config{
		HomeDir:    DefaultHomeDir,
		ConfigFile: DefaultConfigFile,
		DataDir:    DefaultDataDir,
		LogDir:     DefaultLogDir,
		DebugLevel: defaultDebugLevel,

		ContestDuration:       defaultContestDuration,
		VotingDuration:        defaultVotingDuration,
		SuggestionCollect:     defaultSuggestionCollect,
		SuggestionVoting:      defaultSuggestionVoting,
		TaskSelectionDuration: defaultTaskSelectionDuration,

		MinEntries:     defaultMinEntries,
		MinVoters:      defaultMinVoters,
		PostponeQuorum: defaultPostponeQuorum,
		AdminQuorum:    defaultAdminQuorum,

		ContestVoteMin:    defaultContestVoteMin,
		ContestVoteMax:    defaultContestVoteMax,
		SuggestionVoteMin: defaultSuggestionVoteMin,
		SuggestionVoteMax: defaultSuggestionVoteMax,

		SubmissionReward: defaultSubmissionReward,
		SuggestionReward: defaultSuggestionReward,
		VoteReward:       defaultVoteReward,
		PostponeCost:     defaultPostponeCost,

		PollInterval:   defaultPollInterval,
		PreviewWindow:  defaultPreviewWindow,
		NotifyInterval: defaultNotifyInterval,
		RelayInterval:  defaultRelayInterval,

		RandomTasks: []string{
			"A song in a language you do not speak",
			"A cover recorded in one take",
			"A duet with whoever answers first",
		},
	}
}

// Load initializes and parses the config using a config file and command
// line options. Precedence, lowest to highest: defaults, config file,
// command line.
func Load() (*Config, []string, error) {
	// Pre-parse the command line for the home dir and config file
	// locations so the correct config file can be loaded.
	pre := defaultConfig()
	preParser := flags.NewParser(pre, flags.HelpFlag|flags.PassDoubleDash)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, nil, err
		}
	}

	cfg := defaultConfig()
	if pre.HomeDir != DefaultHomeDir {
		cfg.HomeDir = cleanAndExpandPath(pre.HomeDir)
		cfg.ConfigFile = filepath.Join(cfg.HomeDir, DefaultConfigFilename)
		cfg.DataDir = filepath.Join(cfg.HomeDir, DefaultDataDirname)
		cfg.LogDir = filepath.Join(cfg.HomeDir, DefaultLogDirname)
	}
	if pre.ConfigFile != DefaultConfigFile {
		cfg.ConfigFile = cleanAndExpandPath(pre.ConfigFile)
	}

	parser := flags.NewParser(cfg, flags.Default|flags.PassDoubleDash)
	err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return nil, nil, err
		}
		// Missing config file is fine; defaults plus command line
		// apply.
	}

	remaining, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	cfg.HomeDir = cleanAndExpandPath(cfg.HomeDir)
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if cfg.EncryptionKey != "" {
		cfg.EncryptionKey = cleanAndExpandPath(cfg.EncryptionKey)
	}

	err = os.MkdirAll(cfg.HomeDir, 0700)
	if err != nil {
		return nil, nil, err
	}
	err = os.MkdirAll(cfg.DataDir, 0700)
	if err != nil {
		return nil, nil, err
	}

	err = cfg.validate()
	if err != nil {
		return nil, nil, err
	}

	return cfg, remaining, nil
}

func (c *Config) validate() error {
	switch {
	case c.MinEntries < 1:
		return fmt.Errorf("minentries must be at least 1")
	case c.MinVoters < 1:
		return fmt.Errorf("minvoters must be at least 1")
	case c.PostponeQuorum < 1:
		return fmt.Errorf("postponequorum must be at least 1")
	case c.AdminQuorum < 1:
		return fmt.Errorf("adminquorum must be at least 1")
	case c.ContestVoteMin > c.ContestVoteMax:
		return fmt.Errorf("contestvotemin exceeds contestvotemax")
	case c.SuggestionVoteMin > c.SuggestionVoteMax:
		return fmt.Errorf("suggestionvotemin exceeds suggestionvotemax")
	case c.PostponeCost < 0:
		return fmt.Errorf("postponecost may not be negative")
	case c.PollInterval <= 0:
		return fmt.Errorf("pollinterval must be positive")
	case len(c.RandomTasks) == 0:
		return fmt.Errorf("the random task pool may not be empty")
	}
	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
