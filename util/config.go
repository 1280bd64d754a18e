package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "stegodon"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host            string
		HttpPort        int    `yaml:"httpPort"`
		SslDomain       string `yaml:"sslDomain"`
		WithAp          bool   `yaml:"withAp"`
		Single          bool   `yaml:"single"`
		Closed          bool   `yaml:"closed"`
		DatabasePath    string `yaml:"databasePath"`
		WorkerCount     int    `yaml:"workerCount"`
		RetryAttempts   int    `yaml:"retryAttempts"`
		RetryBaseMs     int    `yaml:"retryBaseMs"`
		SignatureMaxAge int    `yaml:"signatureMaxAgeSeconds"`
		BrokerURL       string `yaml:"brokerUrl"`
	}
}

func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}

	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	buf, err = os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvOverrides(c)

	if c.Conf.WorkerCount == 0 {
		c.Conf.WorkerCount = 4
	}
	if c.Conf.RetryAttempts == 0 {
		c.Conf.RetryAttempts = 10
	}
	if c.Conf.RetryBaseMs == 0 {
		c.Conf.RetryBaseMs = 60_000
	}
	if c.Conf.SignatureMaxAge == 0 {
		c.Conf.SignatureMaxAge = 3600
	}
	if c.Conf.DatabasePath == "" {
		c.Conf.DatabasePath = "database.db"
	}

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("STEGODON_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("STEGODON_HTTPPORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.HttpPort = n
		}
	}
	if v := os.Getenv("STEGODON_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if os.Getenv("STEGODON_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}
	if os.Getenv("STEGODON_SINGLE") == "true" {
		c.Conf.Single = true
	}
	if os.Getenv("STEGODON_CLOSED") == "true" {
		c.Conf.Closed = true
	}
	if v := os.Getenv("STEGODON_DATABASE_PATH"); v != "" {
		c.Conf.DatabasePath = v
	}
	if v := os.Getenv("STEGODON_WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.WorkerCount = n
		}
	}
	if v := os.Getenv("STEGODON_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.RetryAttempts = n
		}
	}
	if v := os.Getenv("STEGODON_SIGNATURE_MAX_AGE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.SignatureMaxAge = n
		}
	}
	if v := os.Getenv("STEGODON_BROKER_URL"); v != "" {
		c.Conf.BrokerURL = v
	}
}
