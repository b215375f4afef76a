package config

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: keys, passwords,
// DSNs, tokens and webhook URLs are masked.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range []*string{
		&out.Security.EncryptionKey,
		&out.Database.DSN,
		&out.Database.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	// The copy must not share backing arrays with cfg.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	return out
}
