package cassandra

import "time"

type Config struct {
	Addrs                    string
	Consistency              string
	HostSelectionPolicy      string
	Timeout                  string
	Retries                  int
	CqlProtocolVersion       int
	DisableInitialHostLookup bool
	SSL                      bool
	CertPath                 string
	KeyPath                  string
	CaPath                   string
	HostVerification         bool
	Auth                     bool
	Username                 string
	Password                 string
	ConnectionCheckInterval  time.Duration
	ConnectionCheckTimeout   time.Duration
}

// NewConfig returns a Config with default values set.
// The defaults mirror how this tool is typically run: single local node,
// local_one reads, round robin host selection, no refresher for the
// short-lived session.
func NewConfig() *Config {
	return &Config{
		Addrs:                    "localhost",
		Consistency:              "local_one",
		HostSelectionPolicy:      "roundrobin",
		Timeout:                  "1s",
		Retries:                  0,
		CqlProtocolVersion:       4,
		DisableInitialHostLookup: false,
		SSL:                      false,
		HostVerification:         true,
		Auth:                     false,
		Username:                 "cassandra",
		Password:                 "cassandra",
		ConnectionCheckInterval:  5 * time.Second,
		ConnectionCheckTimeout:   0,
	}
}

// CliConfig is the Config used by the rowtracer binary. It is instantiated
// with default values which can then be changed via flags, environment or
// config file.
var CliConfig = NewConfig()
