package main

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// address is a 32-bit loader address, written in config files as a 0x-prefixed
// hex string.
type address uint32

type config struct {
	// Default entry function name, matching what the object toolchain emits
	Entry string `mapstructure:"entry" default:"local_main"`

	// Host symbols exported to loaded modules
	Exports map[string]address `mapstructure:"exports"`
}

func parseAddress(s string) (address, error) {
	value, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}

	return address(value), nil
}

func addressDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(address(0)) {
			return data, nil
		}

		return parseAddress(data.(string))
	}
}

func loadConfig(path string) (*config, error) {
	config := &config{}

	if err := defaults.Set(config); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if path == "" {
		return config, nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config from '%s': %w", path, err)
	}

	if err := viper.Unmarshal(config, viper.DecodeHook(addressDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}
