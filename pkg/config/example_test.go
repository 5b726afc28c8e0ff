package config_test

import (
	"fmt"

	"github.com/ajitpratap0/fedstream/pkg/config"
)

// ExampleNewStreamerConfig demonstrates the defaults of a new configuration.
func ExampleNewStreamerConfig() {
	cfg := config.NewStreamerConfig()

	fmt.Printf("Batch Size: %d\n", cfg.BatchSize)
	fmt.Printf("Buffer Capacity: %d\n", cfg.BufferCapacity)
	fmt.Printf("Close Timeout: %s\n", cfg.CloseTimeout)

	// Output:
	// Batch Size: 1000
	// Buffer Capacity: 100
	// Close Timeout: 30s
}

// ExampleStreamerConfig_Validate shows how validation reports configuration errors.
func ExampleStreamerConfig_Validate() {
	cfg := config.NewStreamerConfig()
	fmt.Println(cfg.Validate())

	cfg.Sources = []config.SourceConfig{{Name: "patients", Kind: "csv", Location: "patients.csv"}}
	fmt.Println(cfg.Validate())

	// Output:
	// config: at least one source is required
	// <nil>
}
