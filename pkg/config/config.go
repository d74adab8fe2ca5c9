package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LoadAndWatch reads {service}.yaml from paths (default ./config and .),
// applies env overrides and keeps out in sync with later file edits.
//
// Env overrides use the upper-cased service name as prefix, e.g. for
// service "paylink": PAYLINK_CHAIN_RPC_URL overrides chain.rpc_url.
func LoadAndWatch(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v, err := load(service, out, paths)
	if err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)
		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		log.Printf("[%s] config reloaded", service)
	})

	return v, nil
}

// Load is LoadAndWatch without the file watcher.
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	return load(service, out, paths)
}

func load(service string, out interface{}, paths []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	// logger is not up yet when config loads, so this goes to the std logger
	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	return v, nil
}
