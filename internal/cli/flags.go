package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows aggregate statistics, sync markers and daemon health.
type StatusCommand struct {
	globals *GlobalFlags
	version string
	env     *appEnv // injectable for testing; nil means open from config
}

// TopCommand lists the domains with the most active time.
type TopCommand struct {
	Limit int `long:"limit" description:"Maximum domains to show (0 for all)" default:"10"`

	globals *GlobalFlags
	version string
	env     *appEnv
}

// PagesCommand lists stored page records.
type PagesCommand struct {
	Domain   string `long:"domain" description:"Only pages of this domain"`
	Unsynced bool   `long:"unsynced" description:"Only pages not yet accepted by the collector"`
	Since    string `long:"since" description:"Only pages visited within duration (e.g., 7d, 24h, 2w)"`
	Limit    int    `long:"limit" description:"Maximum results" default:"50"`

	globals *GlobalFlags
	version string
	env     *appEnv
}

// SyncCommand pushes unsynced pages to the collector once.
type SyncCommand struct {
	Rollover bool `long:"rollover" description:"Also drop synced pages and record a daily reset"`
	History  int  `long:"history" description:"Show the last N sync attempts instead of syncing"`

	globals *GlobalFlags
	version string
	env     *appEnv
}

// ExcludeCommand manages stored exclusion rules.
type ExcludeCommand struct {
	Type   string `long:"type" description:"Rule type: prefix | domain | regex" default:"domain"`
	Reason string `long:"reason" description:"Why the rule exists"`
	Remove bool   `long:"remove" description:"Remove the rule instead of adding it"`
	List   bool   `long:"list" description:"List all rules"`

	globals *GlobalFlags
	version string
	env     *appEnv
}

// IngestCommand starts the PageTrail daemon (local HTTP service).
type IngestCommand struct {
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// PruneCommand drops pages the collector already accepted.
type PruneCommand struct {
	DryRun bool `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
	env     *appEnv
}

// PurgeCommand deletes ALL PageTrail data with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	env     *appEnv
}
