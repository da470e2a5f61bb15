// Package config provides runtime configuration for the lens relay.
//
// The config package handles:
//   - Built-in defaults for every setting
//   - Loading overrides from an optional JSON file
//   - Validation of timing and size limits
//
// Configuration Format:
//
// A config file is a JSON object whose keys match the Config field tags.
// Durations are Go duration strings:
//
//	{
//	  "port": 8080,
//	  "max_idle": "2h",
//	  "sweep_interval": "60s",
//	  "allowed_origins": ["https://tracker.example.com"]
//	}
//
// Usage:
//
//	cfg, err := config.Load("relay.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Command line flags are applied on top of the loaded file by the caller and
// the result is checked again with Validate.
package config
