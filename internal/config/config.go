// Package config loads the mailer configuration: built-in defaults, then an
// optional YAML file, then environment variable overrides, then validation.
// The result is a plain value that callers pass around and never mutate.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Secret provider names.
const (
	SecretsAzureKeyVault = "azure-keyvault"
	SecretsAWS           = "aws-secretsmanager"
	SecretsEnv           = "env"
	SecretsFile          = "file"
	SecretsKeyring       = "keyring"
)

// Transport names.
const (
	TransportSMTP   = "smtp"
	TransportSES    = "ses"
	TransportGraph  = "graph"
	TransportStdout = "stdout"
)

const (
	defaultSMTPHost       = "smtp.office365.com"
	defaultSMTPPort       = 587
	defaultMaxMessageSize = 26214400
	defaultSubject        = "Non-Compliant NonFS Repos - Checkmarx Policy Enforcement"
	defaultInput          = "NonFS_NonCompliant_Repos.xlsx"
)

// Config holds the complete application configuration.
type Config struct {
	Secrets   SecretsConfig  `yaml:"secrets"`
	Transport string         `yaml:"transport"`
	SMTP      SMTPConfig     `yaml:"smtp"`
	SES       SESConfig      `yaml:"ses"`
	Graph     GraphConfig    `yaml:"graph"`
	Mail      MailConfig     `yaml:"mail"`
	Report    ReportConfig   `yaml:"report"`
	Schedule  ScheduleConfig `yaml:"schedule"`
	Relay     RelayConfig    `yaml:"relay"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// SecretsConfig selects where the sender address and password come from.
type SecretsConfig struct {
	Provider       string `yaml:"provider"`
	VaultURL       string `yaml:"vault_url"`
	AWSRegion      string `yaml:"aws_region"`
	File           string `yaml:"file"`
	KeyringService string `yaml:"keyring_service"`
	EnvPrefix      string `yaml:"env_prefix"`
	AddressSecret  string `yaml:"address_secret"`
	PasswordSecret string `yaml:"password_secret"`
}

// SMTPConfig holds the submission relay settings.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	LocalName          string `yaml:"local_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SESConfig holds AWS SES settings. Keys are optional; the default AWS
// credential chain is used otherwise.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID        string `yaml:"tenant_id"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	SaveToSentItems bool   `yaml:"save_to_sent_items"`
}

// MailConfig holds the recipients and subject.
type MailConfig struct {
	To      []string `yaml:"to"`
	Cc      []string `yaml:"cc"`
	Subject string   `yaml:"subject"`
}

// ReportConfig describes the spreadsheet and the text around the table.
type ReportConfig struct {
	Input      string `yaml:"input"`
	SheetIndex int    `yaml:"sheet_index"`
	SheetName  string `yaml:"sheet_name"`
	RawCells   bool   `yaml:"raw_cells"`
	Attach     bool   `yaml:"attach"`

	Greeting  string   `yaml:"greeting"`
	Intro     string   `yaml:"intro"`
	Findings  []string `yaml:"findings"`
	TableLead string   `yaml:"table_lead"`
	Action    string   `yaml:"action"`
	Contacts  []string `yaml:"contacts"`
	SignOff   string   `yaml:"sign_off"`
	SignOffBy string   `yaml:"sign_off_by"`
}

// ScheduleConfig holds the cron expression used by the schedule command.
type ScheduleConfig struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

// RelayConfig holds the local capture relay settings.
type RelayConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	CertFile       string `yaml:"cert_file"`
	KeyFile        string `yaml:"key_file"`
	DisableTLS     bool   `yaml:"disable_tls"`
	Raw            bool   `yaml:"raw"`
}

// MetricsConfig holds the optional Pushgateway target.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment variables. Commands that send mail call
// Validate on the result; the relay and render commands need less.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvVars()
	return cfg, nil
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Secrets: SecretsConfig{
			Provider:       SecretsAzureKeyVault,
			KeyringService: "compliance-mailer",
			EnvPrefix:      "MAILER_SECRET_",
			AddressSecret:  "infosec-email",
			PasswordSecret: "infosec-pswd",
		},
		Transport: TransportSMTP,
		SMTP: SMTPConfig{
			Host: defaultSMTPHost,
			Port: defaultSMTPPort,
		},
		Mail: MailConfig{
			Subject: defaultSubject,
		},
		Report: ReportConfig{
			Input:    defaultInput,
			Attach:   true,
			Greeting: "Hi All,",
			Intro: "As we are aware that CheckMarx policy enforcement is implemented in repos on all branches, " +
				"however we found non-compliance on repos for the following cases:",
			Findings: []string{
				"Branch protection policy check - Status checks to pass before merging is disabled",
				"If Branch Protection policy is enabled, the corresponding pipeline is missing for the repo",
				"If above two conditions are met, PR validation check is missing",
			},
			TableLead: "Below is the count of non-compliant repos per application, please share the ETA as per the table:",
			Action:    "Request you to take action on the non-compliant repos as per attached sheet.",
			SignOff:   "Thanks,",
			SignOffBy: "Infosec Team",
		},
		Relay: RelayConfig{
			Listen:         "127.0.0.1:2525",
			Hostname:       "localhost",
			MaxMessageSize: defaultMaxMessageSize,
		},
		Metrics: MetricsConfig{
			Job: "compliance_mailer",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setString(&c.Secrets.Provider, "SECRETS_PROVIDER")
	setString(&c.Secrets.VaultURL, "KEY_VAULT_URL")
	setString(&c.Secrets.AWSRegion, "SECRETS_AWS_REGION")
	setString(&c.Secrets.File, "SECRETS_FILE")
	setString(&c.Secrets.AddressSecret, "SECRETS_ADDRESS_NAME")
	setString(&c.Secrets.PasswordSecret, "SECRETS_PASSWORD_NAME")

	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}

	setString(&c.SMTP.Host, "SMTP_HOST")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")

	if v := os.Getenv("MAIL_TO"); v != "" {
		c.Mail.To = splitList(v)
	}
	if v := os.Getenv("MAIL_CC"); v != "" {
		c.Mail.Cc = splitList(v)
	}
	setString(&c.Mail.Subject, "MAIL_SUBJECT")

	setString(&c.Report.Input, "REPORT_INPUT")
	setString(&c.Schedule.Cron, "SCHEDULE_CRON")
	setString(&c.Metrics.PushgatewayURL, "PUSHGATEWAY_URL")

	setString(&c.Relay.Listen, "RELAY_LISTEN")
	setString(&c.Relay.Username, "RELAY_USERNAME")
	setString(&c.Relay.Password, "RELAY_PASSWORD")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every problem found in the configuration at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Secrets.Provider {
	case SecretsAzureKeyVault:
		if c.Secrets.VaultURL == "" {
			add("secrets.vault_url is required for provider %q", c.Secrets.Provider)
		}
	case SecretsAWS:
		if c.Secrets.AWSRegion == "" {
			add("secrets.aws_region is required for provider %q", c.Secrets.Provider)
		}
	case SecretsFile:
		if c.Secrets.File == "" {
			add("secrets.file is required for provider %q", c.Secrets.Provider)
		}
	case SecretsEnv, SecretsKeyring:
	default:
		add("unknown secrets.provider %q", c.Secrets.Provider)
	}
	if c.Secrets.AddressSecret == "" || c.Secrets.PasswordSecret == "" {
		add("secrets.address_secret and secrets.password_secret must be set")
	}

	switch c.Transport {
	case TransportSMTP:
		if c.SMTP.Host == "" {
			add("smtp.host is required")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			add("smtp.port %d is out of range", c.SMTP.Port)
		}
	case TransportSES:
		if c.SES.Region == "" {
			add("ses.region is required for the ses transport")
		}
	case TransportGraph:
		if c.Graph.TenantID == "" || c.Graph.ClientID == "" || c.Graph.ClientSecret == "" {
			add("graph.tenant_id, graph.client_id and graph.client_secret are required for the graph transport")
		}
	case TransportStdout:
	default:
		add("unknown transport %q", c.Transport)
	}

	if len(c.Mail.To) == 0 {
		add("mail.to must list at least one recipient")
	}
	if len(c.Mail.Cc) == 0 {
		add("mail.cc must list at least one recipient")
	}
	for _, addr := range append(append([]string(nil), c.Mail.To...), c.Mail.Cc...) {
		if _, err := mail.ParseAddress(addr); err != nil {
			add("invalid recipient %q: %v", addr, err)
		}
	}
	if strings.TrimSpace(c.Mail.Subject) == "" {
		add("mail.subject must not be empty")
	}

	if c.Report.Input == "" {
		add("report.input is required")
	}
	if c.Report.SheetIndex < 0 {
		add("report.sheet_index must not be negative")
	}

	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			add("invalid schedule.cron %q: %v", c.Schedule.Cron, err)
		}
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			add("invalid schedule.timezone %q: %v", c.Schedule.Timezone, err)
		}
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		add("invalid logging.level: %v", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// String renders the configuration for logs with secrets masked.
func (c Config) String() string {
	masked := c
	mask(&masked.SES.SecretAccessKey)
	mask(&masked.Graph.ClientSecret)
	mask(&masked.Relay.Password)
	out, err := yaml.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

func mask(s *string) {
	if *s != "" {
		*s = "********"
	}
}
