package config

// ConfigBackend is the platform-native settings store behind `config set`.
// On macOS it is UserDefaults driven through the `defaults` CLI; everywhere
// else it is a JSON file under $XDG_CONFIG_HOME/vibewatch. The Get methods
// report ok=false when the store has no value for the key, leaving the
// built-in default in place.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
