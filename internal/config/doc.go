// Package config loads the daemon's JSON configuration file and fills in
// defaults for the HTTP server, wallet, policy, approval ledger, audit sink
// and logging sections. Relative paths resolve against the config file.
package config
