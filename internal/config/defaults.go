package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
			EnvFiles:  []string{".env.local", ".env"},
		},
		Knowledge: KnowledgeConfig{
			DataDir:          "data",
			PersistDir:       "query-engine-storage",
			ChunkSize:        256,
			ChunkOverlap:     32,
			ChunkUnit:        "words",
			SearchTopK:       3,
			SummarySentences: 5,
			Synthesis:        "extractive",
			Embedder: EmbedderConfig{
				Type: "hash",
			},
		},
		Agent: AgentConfig{
			Provider:      "openai",
			MaxIterations: 10,
			Temperature:   0.2,
			RatePerMinute: 60,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o-mini",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8081,
		},
		Traces: TracesConfig{
			Enabled: true,
			DBPath:  "data/call-traces.db",
		},
	}
}
