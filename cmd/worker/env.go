package main

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// envFileVar names an explicit .env file, checked before the search path
const envFileVar = "IRRIGATION_ENV_FILE"

// envCandidates lists where a .env file is looked for: the explicit file first,
// then the working directory and its two parents (bin/ and cmd/worker/ layouts).
func envCandidates(explicit, workDir string) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	dir := workDir
	for i := 0; i < 3 && dir != ""; i++ {
		paths = append(paths, filepath.Join(dir, ".env"))
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return paths
}

// loadEnvFile loads the first existing candidate without overriding variables already set.
// It returns the loaded path, or "" when none was found.
func loadEnvFile(candidates []string) (string, error) {
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", err
		}
		abs, _ := filepath.Abs(path)
		return abs, nil
	}
	return "", nil
}
