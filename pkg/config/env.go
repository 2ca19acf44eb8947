package config

import (
	"github.com/joho/godotenv"
)

// Wrapper for godotenv.Load that expands ~ to $HOME
func LoadEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(ExpandPath(file)); err != nil {
			return err
		}
	}
	return nil
}
