package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet and permit authority
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Permit.AuthorityKey)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.WebhookURL)

	// Server
	redact(&out.Server.APIKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Engine.Swappers = cloneStrings(cfg.Engine.Swappers)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Products.Buys = cloneStrings(cfg.Products.Buys)
	out.Products.Vaults = append([]TargetConfig(nil), cfg.Products.Vaults...)
	out.Products.Ranges = append([]TargetConfig(nil), cfg.Products.Ranges...)
	out.Exchange.Rates = append([]RateConfig(nil), cfg.Exchange.Rates...)
	out.Exchange.Reserves = append([]ReserveConfig(nil), cfg.Exchange.Reserves...)

	// Copy maps so mutations to the redacted copy do not affect the original.
	out.Fees.Base = cloneRates(cfg.Fees.Base)
	out.Fees.NonSubscriber = cloneRates(cfg.Fees.NonSubscriber)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRates(in map[string]uint32) map[string]uint32 {
	if in == nil {
		return nil
	}
	out := make(map[string]uint32, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
