// Package config persists the Hub's own local preferences: agents the
// user has connected to before, and upload presets for games they
// deploy repeatedly, so capyhub doesn't need mDNS discovery or a full
// set of upload flags on every run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SavedAgent is an Agent address the user has connected to before,
// kept so it can be reused without a fresh mDNS discovery pass.
type SavedAgent struct {
	Name string `json:"name"`
	Addr string `json:"addr"` // host:port
}

// SavedUpload is a reusable set of upload parameters for one game, the
// CLI counterpart to the Hub's upload dialog filling in the same
// fields every time for the same title.
type SavedUpload struct {
	ID            string `json:"id"`
	GameName      string `json:"gameName"`
	LocalPath     string `json:"localPath"`
	Executable    string `json:"executable"`
	LaunchOptions string `json:"launchOptions,omitempty"`
	Tags          string `json:"tags,omitempty"`
}

// AppConfig is the Hub's persisted local preferences.
type AppConfig struct {
	Agents             []SavedAgent  `json:"agents"`
	Uploads            []SavedUpload `json:"uploads"`
	DefaultInstallPath string        `json:"defaultInstallPath"`
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = home
	}

	appConfigDir := filepath.Join(configDir, "capydeploy-hub")
	if err := os.MkdirAll(appConfigDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(appConfigDir, "config.json"), nil
}

// Load loads the configuration from disk, returning defaults if none
// has been saved yet.
func Load() (*AppConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &AppConfig{DefaultInstallPath: "~/Games"}, nil
		}
		return nil, err
	}

	var config AppConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save saves the configuration to disk.
func Save(config *AppConfig) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}

// AddAgent saves or updates an agent entry, matched by address.
func AddAgent(agent SavedAgent) error {
	config, err := Load()
	if err != nil {
		return err
	}

	for i, a := range config.Agents {
		if a.Addr == agent.Addr {
			config.Agents[i] = agent
			return Save(config)
		}
	}
	config.Agents = append(config.Agents, agent)
	return Save(config)
}

// RemoveAgent removes a saved agent by address. Removing an unknown
// address is not an error.
func RemoveAgent(addr string) error {
	config, err := Load()
	if err != nil {
		return err
	}

	for i, a := range config.Agents {
		if a.Addr == addr {
			config.Agents = append(config.Agents[:i], config.Agents[i+1:]...)
			break
		}
	}
	return Save(config)
}

// GetAgents returns all saved agents.
func GetAgents() ([]SavedAgent, error) {
	config, err := Load()
	if err != nil {
		return nil, err
	}
	return config.Agents, nil
}

// AddUpload saves or updates an upload preset, generating an ID if
// none was given.
func AddUpload(upload SavedUpload) error {
	config, err := Load()
	if err != nil {
		return err
	}

	if upload.ID == "" {
		upload.ID = fmt.Sprintf("upload_%d", time.Now().UnixNano())
	}

	for i, u := range config.Uploads {
		if u.ID == upload.ID {
			config.Uploads[i] = upload
			return Save(config)
		}
	}
	config.Uploads = append(config.Uploads, upload)
	return Save(config)
}

// RemoveUpload removes an upload preset by ID.
func RemoveUpload(id string) error {
	config, err := Load()
	if err != nil {
		return err
	}

	for i, u := range config.Uploads {
		if u.ID == id {
			config.Uploads = append(config.Uploads[:i], config.Uploads[i+1:]...)
			return Save(config)
		}
	}
	return nil
}

// GetUploads returns all saved upload presets.
func GetUploads() ([]SavedUpload, error) {
	config, err := Load()
	if err != nil {
		return nil, err
	}
	return config.Uploads, nil
}
