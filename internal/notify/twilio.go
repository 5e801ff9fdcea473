// Package notify provides the device capabilities the dispatcher drives:
// silent calls and SMS through Twilio, URL launches relayed to the phone,
// and the permission set the user granted.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"prativedak/internal/config"
	"prativedak/internal/dispatch"
)

// twilioAPI is the part of the Twilio REST client used here.
type twilioAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Twilio places automatic calls and SMS. It implements dispatch.Caller and
// dispatch.Texter.
type Twilio struct {
	api         twilioAPI
	from        string
	countryCode string
	appName     string
	logger      *slog.Logger
}

func NewTwilio(cfg config.TwilioConfig, emergency config.EmergencyConfig, logger *slog.Logger) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilio(client.Api, cfg.FromNumber, emergency, logger)
}

func newTwilio(api twilioAPI, from string, emergency config.EmergencyConfig, logger *slog.Logger) *Twilio {
	return &Twilio{
		api:         api,
		from:        from,
		countryCode: emergency.CountryCode,
		appName:     emergency.AppName,
		logger:      logger,
	}
}

// Call rings the number and reads a short alert when it is answered.
func (t *Twilio) Call(ctx context.Context, phone string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := E164(phone, t.countryCode)
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetTwiml(callTwiml(t.appName))
	resp, err := t.api.CreateCall(params)
	if err != nil {
		return fmt.Errorf("twilio call %s: %w", to, err)
	}
	if t.logger != nil {
		t.logger.Info("twilio call placed", "to", to, "sid", deref(resp.Sid))
	}
	return nil
}

func (t *Twilio) SendSMS(ctx context.Context, phone, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := E164(phone, t.countryCode)
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)
	resp, err := t.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio sms %s: %w", to, err)
	}
	if t.logger != nil {
		t.logger.Info("twilio sms sent", "to", to, "sid", deref(resp.Sid))
	}
	return nil
}

// E164 formats a contact number for the carrier. Short service codes such
// as 112 are returned as digits.
func E164(phone, countryCode string) string {
	trimmed := strings.TrimSpace(phone)
	digits := dispatch.MessagingNumber(trimmed, "")
	if strings.HasPrefix(trimmed, "+") {
		return "+" + digits
	}
	digits = strings.TrimLeft(digits, "0")
	if len(digits) <= 5 {
		return digits
	}
	return "+" + dispatch.MessagingNumber(digits, countryCode)
}

func callTwiml(appName string) string {
	if appName == "" {
		appName = "Prativedak Safety App"
	}
	msg := "This is an emergency alert from " + appName +
		". An accident has been detected. Please check your messages for the location."
	return `<Response><Say voice="alice">` + msg + `</Say><Pause length="1"/><Say voice="alice">` + msg + `</Say></Response>`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Unavailable stands in for Twilio when it is not configured. The
// dispatcher then opens the dialer or SMS app instead.
type Unavailable struct{}

func (Unavailable) Call(context.Context, string) error {
	return dispatch.ErrCapabilityUnavailable
}

func (Unavailable) SendSMS(context.Context, string, string) error {
	return dispatch.ErrCapabilityUnavailable
}
