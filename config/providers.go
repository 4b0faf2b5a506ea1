package config

import (
	"os"
	"strings"
)

// Provider credentials are read once at startup and handed to the client
// constructors in main(). A client built from an empty config reports
// "not configured" on first use instead of failing at boot, so a deployment
// that only runs one rail never needs the other rail's secrets.

type BillTrackConfig struct {
	BaseURL string
	APIKey  string
}

type LedgerHQConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type MeridianConfig struct {
	BaseURL       string
	OrgID         string
	Username      string
	Password      string
	DevKey        string
	MFADeviceId   string
	MFATrustToken string
	WebhookSecret string
}

type GlobalPayConfig struct {
	BaseURL          string
	APIToken         string
	SourceCurrency   string
	WebhookPublicKey string
}

type SMTPConfig struct {
	Host string
	Port string
	From string
	User string
	Pass string
}

func LoadBillTrackConfig() BillTrackConfig {
	return BillTrackConfig{
		BaseURL: envOr("BILLTRACK_API_BASE_URL", "https://api.billtrack.io"),
		APIKey:  strings.TrimSpace(os.Getenv("BILLTRACK_API_KEY")),
	}
}

func LoadLedgerHQConfig() LedgerHQConfig {
	return LedgerHQConfig{
		BaseURL:      envOr("LEDGERHQ_API_BASE_URL", "https://api.ledgerhq.com"),
		TokenURL:     envOr("LEDGERHQ_TOKEN_URL", "https://auth.ledgerhq.com/oauth2/token"),
		ClientID:     strings.TrimSpace(os.Getenv("LEDGERHQ_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("LEDGERHQ_CLIENT_SECRET")),
	}
}

func LoadMeridianConfig() MeridianConfig {
	return MeridianConfig{
		BaseURL:       envOr("MERIDIAN_API_BASE_URL", "https://api.meridianpay.com"),
		OrgID:         strings.TrimSpace(os.Getenv("MERIDIAN_ORG_ID")),
		Username:      strings.TrimSpace(os.Getenv("MERIDIAN_USERNAME")),
		Password:      os.Getenv("MERIDIAN_PASSWORD"),
		DevKey:        strings.TrimSpace(os.Getenv("MERIDIAN_DEV_KEY")),
		MFADeviceId:   strings.TrimSpace(os.Getenv("MERIDIAN_MFA_DEVICE_ID")),
		MFATrustToken: strings.TrimSpace(os.Getenv("MERIDIAN_MFA_TRUST_TOKEN")),
		WebhookSecret: os.Getenv("MERIDIAN_WEBHOOK_SECRET"),
	}
}

func LoadGlobalPayConfig() GlobalPayConfig {
	return GlobalPayConfig{
		BaseURL:          envOr("GLOBALPAY_API_BASE_URL", "https://api.globalpay.com"),
		APIToken:         strings.TrimSpace(os.Getenv("GLOBALPAY_API_TOKEN")),
		SourceCurrency:   envOr("GLOBALPAY_SOURCE_CURRENCY", "USD"),
		WebhookPublicKey: os.Getenv("GLOBALPAY_WEBHOOK_PUBLIC_KEY"),
	}
}

func LoadSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host: strings.TrimSpace(os.Getenv("SMTP_HOST")),
		Port: envOr("SMTP_PORT", "587"),
		From: envOr("SMTP_FROM", "payouts@mmdatafocus.com"),
		User: strings.TrimSpace(os.Getenv("SMTP_USER")),
		Pass: os.Getenv("SMTP_PASS"),
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
