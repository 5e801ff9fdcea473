// Package dispatch runs the notification protocol for one emergency: a call
// to the primary contact, SMS to every contact, then a messaging-app alert to
// the primary contact. Every attempt is recorded; nothing aborts the run.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

var (
	// ErrPermissionDenied means the user has not granted the permission the
	// channel needs. No fallback is attempted.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrCapabilityUnavailable means silent dispatch is not possible on this
	// device. The manual app is opened instead.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)

const (
	MethodAutoCall      = "auto_call"
	MethodDialer        = "dialer"
	MethodAutoSMS       = "auto_sms"
	MethodSMSApp        = "sms_app"
	MethodMessagingApp  = "messaging_app"
	MethodMessagingWeb  = "messaging_web"
	EmergencyServices   = "Emergency Services"
	defaultCountryCode  = "91"
	defaultEmergencyNum = "112"
)

type Caller interface {
	Call(ctx context.Context, phone string) error
}

type Texter interface {
	SendSMS(ctx context.Context, phone, body string) error
}

// Launcher opens URLs on the device: dialer, SMS app, messaging app or web.
type Launcher interface {
	CanOpen(ctx context.Context, rawURL string) bool
	Open(ctx context.Context, rawURL string) error
}

type Permissions interface {
	Granted(ctx context.Context, perm model.Permission) bool
}

type Dispatcher struct {
	caller   Caller
	texter   Texter
	launcher Launcher
	perms    Permissions
	clock    clockwork.Clock
	logger   *slog.Logger
	cfg      atomic.Value
}

func New(cfg config.EmergencyConfig, caller Caller, texter Texter, launcher Launcher, perms Permissions, clock clockwork.Clock, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d := &Dispatcher{
		caller:   caller,
		texter:   texter,
		launcher: launcher,
		perms:    perms,
		clock:    clock,
		logger:   logger,
	}
	d.cfg.Store(cfg)
	return d
}

func (d *Dispatcher) UpdateConfig(cfg config.EmergencyConfig) {
	d.cfg.Store(cfg)
}

func (d *Dispatcher) config() config.EmergencyConfig {
	if v := d.cfg.Load(); v != nil {
		return v.(config.EmergencyConfig)
	}
	return config.DefaultEmergency()
}

// Dispatch runs the full protocol. It always returns one result per
// attempted (contact, channel) pair.
func (d *Dispatcher) Dispatch(ctx context.Context, user model.User, loc *model.Location) []model.DispatchResult {
	cfg := d.config()
	contacts := SortContacts(user.EmergencyContacts)
	if len(contacts) == 0 {
		return []model.DispatchResult{d.safeCall(ctx, d.emergencyServices(cfg))}
	}

	body := FormatMessage(user.Name, d.clock.Now(), loc, appName(cfg))
	primary := contacts[0]
	results := make([]model.DispatchResult, 0, len(contacts)+2)
	results = append(results, d.safeCall(ctx, primary))
	for _, c := range contacts {
		results = append(results, d.guard(c, model.ChannelSMS, func() model.DispatchResult {
			return d.sms(ctx, c, body)
		}))
	}

	if cfg.MessagingDelay > 0 {
		select {
		case <-d.clock.After(cfg.MessagingDelay):
		case <-ctx.Done():
			return append(results, d.record(model.DispatchResult{
				Contact: primary.Name,
				Phone:   primary.Phone,
				Channel: model.ChannelMessaging,
				Error:   ctx.Err().Error(),
			}))
		}
	}
	return append(results, d.guard(primary, model.ChannelMessaging, func() model.DispatchResult {
		return d.messaging(ctx, primary, body, cfg)
	}))
}

// CallPrimary places only the call-channel attempt, used when the user
// skips the countdown.
func (d *Dispatcher) CallPrimary(ctx context.Context, user model.User) []model.DispatchResult {
	primary, ok := Primary(user.EmergencyContacts)
	if !ok {
		primary = d.emergencyServices(d.config())
	}
	return []model.DispatchResult{d.safeCall(ctx, primary)}
}

func (d *Dispatcher) safeCall(ctx context.Context, c model.EmergencyContact) model.DispatchResult {
	return d.guard(c, model.ChannelCall, func() model.DispatchResult {
		return d.call(ctx, c)
	})
}

// guard turns a panic inside one attempt into a failed result for that
// attempt.
func (d *Dispatcher) guard(c model.EmergencyContact, ch model.Channel, attempt func() model.DispatchResult) (res model.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = d.record(model.DispatchResult{
				Contact: c.Name,
				Phone:   c.Phone,
				Channel: ch,
				Error:   fmt.Sprintf("panic: %v", r),
			})
		}
	}()
	return attempt()
}

func (d *Dispatcher) emergencyServices(cfg config.EmergencyConfig) model.EmergencyContact {
	number := cfg.DefaultEmergencyNumber
	if number == "" {
		number = defaultEmergencyNum
	}
	return model.EmergencyContact{Name: EmergencyServices, Phone: number, Priority: 1}
}

func (d *Dispatcher) call(ctx context.Context, c model.EmergencyContact) model.DispatchResult {
	res := model.DispatchResult{Contact: c.Name, Phone: c.Phone, Channel: model.ChannelCall}
	if !d.granted(ctx, model.PermissionCall) {
		res.Method = MethodAutoCall
		res.Error = ErrPermissionDenied.Error()
		return d.record(res)
	}
	err := ErrCapabilityUnavailable
	if d.caller != nil {
		err = d.caller.Call(ctx, c.Phone)
	}
	if err == nil {
		res.Success, res.Automatic, res.Method = true, true, MethodAutoCall
		return d.record(res)
	}
	if errors.Is(err, ErrPermissionDenied) {
		res.Method = MethodAutoCall
		res.Error = err.Error()
		return d.record(res)
	}
	return d.record(d.fallback(ctx, res, MethodDialer, dialerURL(c.Phone), err))
}

func (d *Dispatcher) sms(ctx context.Context, c model.EmergencyContact, body string) model.DispatchResult {
	res := model.DispatchResult{Contact: c.Name, Phone: c.Phone, Channel: model.ChannelSMS}
	if !d.granted(ctx, model.PermissionSMS) {
		res.Method = MethodAutoSMS
		res.Error = ErrPermissionDenied.Error()
		return d.record(res)
	}
	err := ErrCapabilityUnavailable
	if d.texter != nil {
		err = d.texter.SendSMS(ctx, c.Phone, body)
	}
	if err == nil {
		res.Success, res.Automatic, res.Method = true, true, MethodAutoSMS
		return d.record(res)
	}
	if errors.Is(err, ErrPermissionDenied) {
		res.Method = MethodAutoSMS
		res.Error = err.Error()
		return d.record(res)
	}
	return d.record(d.fallback(ctx, res, MethodSMSApp, smsURL(c.Phone, body), err))
}

func (d *Dispatcher) messaging(ctx context.Context, c model.EmergencyContact, body string, cfg config.EmergencyConfig) model.DispatchResult {
	res := model.DispatchResult{Contact: c.Name, Phone: c.Phone, Channel: model.ChannelMessaging}
	if d.launcher == nil {
		res.Error = ErrCapabilityUnavailable.Error()
		return d.record(res)
	}
	cc := cfg.CountryCode
	if cc == "" {
		cc = defaultCountryCode
	}
	number := MessagingNumber(c.Phone, cc)
	appURL := messagingAppURL(number, body)
	if d.launcher.CanOpen(ctx, appURL) {
		if err := d.launcher.Open(ctx, appURL); err == nil {
			res.Success, res.Method = true, MethodMessagingApp
			return d.record(res)
		}
	}
	res.Method = MethodMessagingWeb
	if err := d.launcher.Open(ctx, messagingWebURL(number, body)); err != nil {
		res.Error = err.Error()
		return d.record(res)
	}
	res.Success = true
	return d.record(res)
}

// fallback opens the manual app after the silent path failed. The result
// is never automatic and keeps the silent path's error even when the app
// opened.
func (d *Dispatcher) fallback(ctx context.Context, res model.DispatchResult, method, rawURL string, cause error) model.DispatchResult {
	res.Method = method
	if d.launcher == nil {
		res.Error = cause.Error()
		return res
	}
	if err := d.launcher.Open(ctx, rawURL); err != nil {
		res.Error = fmt.Errorf("%v; fallback: %w", cause, err).Error()
		return res
	}
	res.Success = true
	res.Error = cause.Error()
	return res
}

func (d *Dispatcher) granted(ctx context.Context, perm model.Permission) bool {
	if d.perms == nil {
		return true
	}
	return d.perms.Granted(ctx, perm)
}

func (d *Dispatcher) record(res model.DispatchResult) model.DispatchResult {
	res.At = d.clock.Now().UTC()
	if d.logger == nil {
		return res
	}
	attrs := []any{
		"channel", res.Channel,
		"contact", res.Contact,
		"method", res.Method,
		"automatic", res.Automatic,
	}
	if res.Success {
		if res.Error != "" {
			attrs = append(attrs, "error", res.Error)
		}
		d.logger.Info("dispatch attempt succeeded", attrs...)
	} else {
		d.logger.Warn("dispatch attempt failed", append(attrs, "error", res.Error)...)
	}
	return res
}

func appName(cfg config.EmergencyConfig) string {
	if cfg.AppName == "" {
		return "Prativedak Safety App"
	}
	return cfg.AppName
}
