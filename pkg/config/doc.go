// Package config provides configuration management for fedstream.
//
// # Key Features
//
// - StreamerConfig: batch size, buffer capacity, executor width and sources
// - SourceConfig: kind, location, projection and backend options
// - Environment variable substitution with ${VAR_NAME} syntax
// - Automatic defaults and validation returning configuration errors
//
// # Usage
//
//	cfg, err := config.LoadStreamer("streamer.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// A configuration file looks like:
//
//	batch_size: 64
//	buffer_capacity: 100
//	sources:
//	  - name: patients
//	    kind: csv
//	    location: ${DATA_DIR}/mimic-patients.csv
//	    columns: [gender, anchor_age, dod]
//	  - name: admissions
//	    kind: postgresql
//	    location: ${PG_DSN}
//	    options:
//	      table: admissions
//	      order_by: hadm_id
//
// Zero values are replaced by defaults in ApplyDefaults; negative or
// inconsistent values are rejected by Validate.
package config
