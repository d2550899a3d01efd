package config

// DefaultReplyTemplate is the acknowledgement sent back to LINE after a case is created.
const DefaultReplyTemplate = "Thank you! Your message has been received. Case ID: %s"

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   3000,
			Environment:            "development",
			ShutdownTimeoutSeconds: 15,
			CORSOrigins:            []string{"*"},
		},
		Salesforce: SalesforceConfig{
			LoginURL:             "https://login.salesforce.com",
			APIVersion:           "59.0",
			ContactLineField:     "LINE_User_ID__c",
			AccountsLimit:        10,
			RateLimitPerSec:      0,
			ClientTimeoutSeconds: 30,
			ConnectOnStart:       true,
		},
		Line: LineConfig{
			WebhookPath:   "/webhook/line",
			ReplyEndpoint: "https://api.line.me/v2/bot/message/reply",
			ReplyEnabled:  true,
			ReplyTemplate: DefaultReplyTemplate,
		},
		Session: SessionConfig{
			Backend:    "memory",
			KeyPrefix:  "linerelay:",
			TTLMinutes: 120,
		},
		Delivery: DeliveryConfig{
			DBPath:           ":memory:",
			RetentionMinutes: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
