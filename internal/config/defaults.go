package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Mail: MailConfig{
			IMAPAddr: "imap.gmail.com:993",
			SMTPAddr: "smtp.gmail.com:587",
			Mailbox:  "INBOX",
		},
		Generation: GenerationConfig{
			Provider:    "openai",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			MaxTokens:   1000,
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIBase:        "https://api.openai.com/v1",
				TimeoutSeconds: 120,
			},
			Claude: ProviderConfig{
				DefaultModel:   "claude-sonnet-4-5",
				TimeoutSeconds: 120,
			},
		},
		Knowledge: KnowledgeConfig{
			IndexPath:      "guest_kb_index.db",
			TopK:           3,
			EmbeddingModel: "text-embedding-3-small",
			ChunkSize:      200,
			ChunkOverlap:   20,
			BatchSize:      64,
		},
		Listings: ListingsConfig{
			CatalogPath:     "listings.json",
			City:            "Cairo",
			MinGuests:       5,
			MaxMatches:      3,
			FallbackBaseURL: "https://anqakhans.holidayfuture.com/listings/",
		},
		Links: LinksConfig{
			SearchBaseURL:      "https://www.airbnb.com/s/",
			City:               "Cairo",
			Areas:              []string{"Zamalek", "Maadi", "Garden City"},
			CheckinOffsetDays:  3,
			CheckoutOffsetDays: 6,
			Adults:             2,
		},
		Filter: FilterConfig{
			IgnoreSenders: []string{
				`/^(mailer-daemon|postmaster)@/`,
				`/^(no-?reply|do-?not-?reply|donotreply)[@+.-]/`,
			},
		},
		Poll: PollConfig{
			IntervalSeconds:   30,
			JitterSeconds:     5,
			MaxBackoffSeconds: 600,
			Workers:           1,
			MaxAttempts:       5,
		},
		Ledger: LedgerConfig{
			DBPath: "~/.guestmail/ledger.db",
		},
	}
}
