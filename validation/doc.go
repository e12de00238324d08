// Package validation checks configuration structs.
//
// Struct tags are evaluated with go-playground/validator; field names in
// messages follow the mapstructure tag so they match the YAML keys:
//
//	type WatchConfig struct {
//	    PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
//	}
//	err := validation.Struct("watch", cfg)
//
// Cross-field rules use the programmatic collector:
//
//	v := validation.New("registration")
//	v.Check(cfg.CheckTTL > cfg.HeartbeatInterval, "check_ttl", "must exceed heartbeat_interval")
//	return v.Err()
package validation
