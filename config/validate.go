package config

import (
	"fmt"
	"strings"
)

const (
	maxAssetCapacity = 255
	// headerBytes and slotBytes mirror the ledger record layout so a record
	// limit below the smallest ledger is caught at startup.
	headerBytes = 101
	slotBytes   = 65
)

// Validate checks value ranges that Load cannot default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if c.AssetCapacity == 0 || c.AssetCapacity > maxAssetCapacity {
		return fmt.Errorf("config: AssetCapacity must be between 1 and %d", maxAssetCapacity)
	}
	if c.MaxRecordBytes != 0 && c.MaxRecordBytes < headerBytes+slotBytes {
		return fmt.Errorf("config: MaxRecordBytes %d cannot hold a single asset slot", c.MaxRecordBytes)
	}
	if c.RateLimitPerSecond < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate limits must not be negative")
	}
	if c.RateLimitPerSecond > 0 && c.RateLimitBurst == 0 {
		return fmt.Errorf("config: RateLimitBurst required when RateLimitPerSecond is set")
	}
	if c.EventHistory < 0 {
		return fmt.Errorf("config: EventHistory must not be negative")
	}
	for i, origin := range c.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("config: AllowedOrigins[%d] is empty", i)
		}
	}
	for i, entry := range c.Genesis {
		if _, err := entry.Parse(); err != nil {
			return fmt.Errorf("config: Genesis[%d]: %w", i, err)
		}
	}
	return nil
}
