/*
Package config loads ragflow settings.

# Overview

Configuration is assembled from three layers, later layers winning:

 1. Built-in defaults (Defaults)
 2. An optional YAML or JSON file (FromFile)
 3. Environment variables listed in EnvBindings

The merged map is decoded into Settings and validated:

	settings, err := config.Load("ragflow.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(settings.API.Addr())

# Raw Access

Config wraps the merged map and offers typed accessors with defaults.
Keys are dotted paths into nested sections:

	cfg, _ := config.FromYAML(data)
	topK := cfg.Int("rag.top_k", 5)
	ttl := cfg.Duration("agent.timeout", 5*time.Minute)

Accessors never fail; they return the default when a key is missing or its
value cannot be converted. String values are parsed, so "5" satisfies Int.

# Thread Safety

Config is safe for concurrent read access. Set and Merge return copies.
*/
package config
