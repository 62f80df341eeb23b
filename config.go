package blockfile

import (
	"fmt"

	"gopkg.in/ini.v1"
)

const configSection = "blockfile"

// LoadConfig reads connection settings from the [blockfile] section of an ini
// file. Keys match the connection string parameters, plus "path" for the
// block file itself. Missing keys keep their defaults.
//
//	[blockfile]
//	path = ./data.blk
//	span_size = 32
//	log_level = info
func LoadConfig(configFile string) (*ConnectionConfig, error) {
	parsedFile, err := ini.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configFile, err)
	}
	return parseConfigSection(parsedFile.Section(configSection))
}

func parseConfigSection(section *ini.Section) (*ConnectionConfig, error) {
	config := DefaultConnectionConfig(section.Key("path").String())

	var err error
	if value, ok := valueOf(section, "span_size"); ok {
		if config.SpanSize, err = parseSpanSize(value); err != nil {
			return nil, err
		}
	}
	if value, ok := valueOf(section, "log_level"); ok {
		if config.LogLevel, err = parseLogLevel(value); err != nil {
			return nil, err
		}
	}
	if value, ok := valueOf(section, "read_only"); ok {
		if config.ReadOnly, err = parseBool("read_only", value); err != nil {
			return nil, err
		}
	}
	if value, ok := valueOf(section, "cache_spans"); ok {
		if config.CacheSpans, err = parseCacheSpans(value); err != nil {
			return nil, err
		}
	}
	if value, ok := valueOf(section, "check_on_dirty"); ok {
		if config.CheckOnDirty, err = parseBool("check_on_dirty", value); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func valueOf(section *ini.Section, keyName string) (string, bool) {
	if !section.HasKey(keyName) {
		return "", false
	}
	value := section.Key(keyName).String()
	return value, value != ""
}
