package email

import "fmt"

// Config holds the mailbox connection parameters. It is embedded in the
// top-level bridge config under the "email" YAML key.
type Config struct {
	// Host is the IMAP server hostname (e.g., "imap.gmail.com").
	Host string `yaml:"host"`

	// Port is the IMAP server port. Default: 993 (IMAPS).
	Port int `yaml:"port"`

	// Username is the IMAP login username (typically the email address).
	Username string `yaml:"username"`

	// Password is the IMAP login password. For Gmail this must be an
	// app password, not the account password. Supports environment
	// variable expansion via the config loader (e.g., ${IMAP_PASSWORD}).
	Password string `yaml:"password"`

	// TLS controls whether to use TLS for the connection. Default: true.
	// Set to false only for port 143 plaintext connections (not recommended).
	TLS bool `yaml:"tls"`

	// Folder is the mailbox searched for unread messages. Default: "INBOX".
	Folder string `yaml:"folder"`

	// Peek leaves fetched messages unread. By default fetching a message
	// marks it \Seen, so each unread message is summarized once.
	Peek bool `yaml:"peek"`

	// ActivityLog is the append-only file that records one line per
	// completed poll. Default: "email_log.txt".
	ActivityLog string `yaml:"activity_log"`
}

// Configured reports whether the minimum IMAP configuration (host and
// username) is present.
func (c Config) Configured() bool {
	return c.Host != "" && c.Username != ""
}

// ApplyDefaults fills zero-value fields with sensible defaults.
// Called by the parent config's applyDefaults method.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 993
	}
	// TLS defaults to true unless the port is 143 (plaintext convention).
	// bool zero-value is false, so "not set" and "explicitly false" are
	// indistinguishable; the port is the tiebreaker.
	if !c.TLS && c.Port != 143 {
		c.TLS = true
	}
	if c.Folder == "" {
		c.Folder = "INBOX"
	}
	if c.ActivityLog == "" {
		c.ActivityLog = "email_log.txt"
	}
}

// Validate checks that the email configuration is internally consistent.
// An unconfigured mailbox is valid; polls then report no email.
func (c Config) Validate() error {
	if !c.Configured() {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("email.port %d out of range (1-65535)", c.Port)
	}
	return nil
}
