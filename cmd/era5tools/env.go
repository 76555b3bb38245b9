package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// loadEnvFile reads the environment file named by --env-file, ERA5_ENV_FILE or
// the default, before kong resolves env-tagged defaults. Variables already set
// in the environment win. A missing default file is not an error.
func loadEnvFile(args []string) error {
	path, explicit := envFileFromArgs(args)
	if !explicit {
		if v := os.Getenv("ERA5_ENV_FILE"); v != "" {
			path, explicit = v, true
		}
	}
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func envFileFromArgs(args []string) (string, bool) {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--env-file="); ok {
			return v, true
		}
		if a == "--env-file" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return defaultEnvFile, false
}
