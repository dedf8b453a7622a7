// Package config handles pre-database configuration, such as the location
// of the database and the shape of the simulated chain.  Used by both
// tombolad and tombolaadmin.
package config

import (
	"log"
	"os"

	"github.com/spf13/viper"
)

// Viper-based config loader
func Init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName(".tombola")
	viper.AddConfigPath(home)
	viper.AutomaticEnv()
	viper.BindEnv("db_url", "TOMBOLA_DB_URL")
	viper.BindEnv("listen_address", "TOMBOLA_LISTEN_ADDRESS")
	viper.BindEnv("sql_connector", "TOMBOLA_SQL_CONNECTOR")
	viper.BindEnv("storage_backend", "TOMBOLA_STORAGE_BACKEND")
	viper.BindEnv("chain_genesis_unix", "TOMBOLA_CHAIN_GENESIS_UNIX")
	viper.BindEnv("chain_block_seconds", "TOMBOLA_CHAIN_BLOCK_SECONDS")
	viper.SetDefault("db_url", "")
	viper.SetDefault("listen_address", ":8080")
	viper.SetDefault("sql_connector", "pgx")
	viper.SetDefault("storage_backend", "memory")
	viper.SetDefault("chain_genesis_unix", 1_735_689_600) // 2025-01-01T00:00:00Z
	viper.SetDefault("chain_block_seconds", 15)
	viper.SetDefault("round_cache_size", 128)
	err = viper.ReadInConfig() // ignore error if config file missing
	if err != nil {
		log.Printf("viper can't read config file: %v", err)
	}
	log.Printf("Using storage backend: %s", viper.GetString("storage_backend"))
	log.Printf("Using listen address: %s", viper.GetString("listen_address"))
}

func DBURL() string {
	return viper.GetString("db_url")
}

func ListenAddress() string {
	return viper.GetString("listen_address")
}

func SecureCookies() bool {
	return viper.GetBool("secure_cookies")
}

func SQLConnector() string {
	return viper.GetString("sql_connector")
}

// StorageBackend is "memory" or "postgres".
func StorageBackend() string {
	return viper.GetString("storage_backend")
}

func ChainGenesisUnix() uint64 {
	return viper.GetUint64("chain_genesis_unix")
}

func ChainBlockSeconds() uint64 {
	return viper.GetUint64("chain_block_seconds")
}

func RoundCacheSize() int {
	return viper.GetInt("round_cache_size")
}
