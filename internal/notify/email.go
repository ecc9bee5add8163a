package notify

import (
	"context"
	"fmt"

	"github.com/oszuidwest/zwfm-camswitch/internal/config"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

// BuildGraphConfig creates a GraphConfig from the config snapshot.
func BuildGraphConfig(cfg *config.Snapshot) *types.GraphConfig {
	return &types.GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

// alertEmail returns the subject and body for an alert.
func alertEmail(a *Alert) (subject, body string) {
	if a.Cleared {
		subject = "[OK] " + a.Title + " - " + AppName
		body = fmt.Sprintf("%s\n\nActive for: %s\nTime:       %s",
			a.Text, util.FormatDuration(a.Duration), util.HumanTime())
		return subject, body
	}
	subject = "[ALERT] " + a.Title + " - " + AppName
	body = fmt.Sprintf("%s\n\nTime: %s\n\nAutomatic camera switching may be affected.",
		a.Text, util.HumanTime())
	return subject, body
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *types.GraphConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	body := fmt.Sprintf("Test email from %s.\n\nTime: %s\n\nMicrosoft Graph configuration is working correctly.",
		AppName, util.HumanTime())
	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), "[TEST] "+AppName, body); err != nil {
		return util.WrapError("send email", err)
	}
	return nil
}
