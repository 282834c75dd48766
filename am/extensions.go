package am

import (
	"github.com/BurntSushi/toml"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/logger"
)

// extensionsFile is the layout of a standalone extensions file:
//
//	[[cadences]]
//	name = "every_five_minutes"
//	interval_seconds = 300
//
//	[[jobs]]
//	action = "rotate_logs"
//	cadence = "every_five_minutes"
//	handler = "purge"
type extensionsFile struct {
	Cadences []CadenceConfig `toml:"cadences"`
	Jobs     []JobConfig     `toml:"jobs"`
}

// LoadExtensionsFile decodes cadences and jobs from a standalone TOML file.
// Unknown keys are logged and ignored.
func LoadExtensionsFile(path string) (ExtensionsConfig, error) {
	var file extensionsFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return ExtensionsConfig{}, errors.Wrapf(err, "failed to decode extensions file %s", path)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		logger.Warnw("Ignoring unknown keys in extensions file",
			logger.FieldPath, path,
			"keys", keys)
	}

	return ExtensionsConfig{
		File:     path,
		Cadences: file.Cadences,
		Jobs:     file.Jobs,
	}, nil
}

// mergeExtensionsFile appends the definitions of Extensions.File, if set,
// after the inline ones
func (c *Config) mergeExtensionsFile() error {
	if c.Extensions.File == "" {
		return nil
	}
	ext, err := LoadExtensionsFile(c.Extensions.File)
	if err != nil {
		return err
	}
	c.Extensions.Cadences = append(c.Extensions.Cadences, ext.Cadences...)
	c.Extensions.Jobs = append(c.Extensions.Jobs, ext.Jobs...)
	return nil
}
