// Package config manages the mdns-discover configuration file.
//
// The file is YAML and lives in the platform configuration directory:
//   - Linux: $XDG_CONFIG_HOME/mdns-discover/config.yaml or $HOME/.config/mdns-discover/config.yaml
//   - macOS: $HOME/.config/mdns-discover/config.yaml
//   - Windows: %LOCALAPPDATA%\mdns-discover\config.yaml
//
// The command line layers flags and MDNS_DISCOVER_* environment variables on
// top of the file with viper; Keys lists the dotted names it binds. Load and
// Save read and write the file directly for callers that do not use viper.
//
// # Usage Example
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := reg.Configure(cfg.Settings()); err != nil {
//	    log.Println(err)
//	}
//
// # Thread Safety
//
// Save serializes writes with a package mutex and replaces the file
// atomically, so a concurrent reader or the config watcher never sees a
// partial file.
package config
