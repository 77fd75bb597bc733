package context

// Environment variables that override the default locations of the
// configuration file and the data directory. Command-line flags still take
// precedence.
const (
	EnvConfigFile = "WGFENCE_CONFIG"
	EnvDataDir    = "WGFENCE_DATA_DIR"
)

// Environment is the interface to the process environment.
type Environment interface {
	Get(string) string
	Set(string, string) error
}

// Lookup returns the value of key in env, or def if it's unset or env is nil.
func Lookup(env Environment, key, def string) string {
	if env == nil {
		return def
	}
	if v := env.Get(key); v != "" {
		return v
	}
	return def
}
