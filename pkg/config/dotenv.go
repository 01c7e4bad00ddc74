package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
)

// DotEnvPath returns the dot-env file for a name: ".env" when empty, ".env.<name>" otherwise
func DotEnvPath(root, name string) string {
	file := ".env"
	if name != "" {
		file += "." + name
	}
	return filepath.Join(root, file)
}

// LoadDotEnv reads the dot-env file selected by name. A missing default ".env" is
// only a warning; a missing named file is a configuration error.
func LoadDotEnv(root, name string, log logger.Logger) (types.EnvProps, error) {
	path := DotEnvPath(root, name)

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, werrors.Wrap(err, werrors.KindConfiguration, werrors.ExitEnvFileMissing, "failed to stat env file")
		}
		if name != "" {
			return nil, werrors.EnvFileMissing(path)
		}
		log.Warn("Env file not found", logger.WithField("path", path))
		return types.EnvProps{}, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindConfiguration, werrors.ExitEnvFileMissing, "failed to parse env file "+path)
	}

	log.Debug("Loaded env file",
		logger.WithField("path", path),
		logger.WithField("keys", len(values)))
	return types.EnvProps(values), nil
}
