package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

type fakeDevice struct {
	mu        sync.Mutex
	calls     []string
	texts     []string
	opened    []string
	callErr   error
	smsErr    map[string]error
	installed map[string]bool
	openErr   error
	denied    map[model.Permission]bool
}

func (f *fakeDevice) Call(_ context.Context, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, phone)
	return f.callErr
}

func (f *fakeDevice) SendSMS(_ context.Context, phone, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, phone)
	return f.smsErr[phone]
}

func (f *fakeDevice) CanOpen(_ context.Context, rawURL string) bool {
	scheme, _, _ := strings.Cut(rawURL, ":")
	return f.installed[scheme]
}

func (f *fakeDevice) Open(_ context.Context, rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, rawURL)
	return f.openErr
}

func (f *fakeDevice) Granted(_ context.Context, perm model.Permission) bool {
	return !f.denied[perm]
}

func newTestDispatcher(dev *fakeDevice, clock clockwork.Clock) *Dispatcher {
	cfg := config.DefaultEmergency()
	cfg.MessagingDelay = 0
	return New(cfg, dev, dev, dev, dev, clock, nil)
}

func testUser(contacts ...model.EmergencyContact) model.User {
	return model.User{ID: "u1", Name: "Asha Rao", Phone: "+919800000000", EmergencyContacts: contacts}
}

func byChannel(results []model.DispatchResult, ch model.Channel) []model.DispatchResult {
	var out []model.DispatchResult
	for _, r := range results {
		if r.Channel == ch {
			out = append(out, r)
		}
	}
	return out
}

func TestEmptyContactsCallsEmergencyServices(t *testing.T) {
	dev := &fakeDevice{}
	d := newTestDispatcher(dev, clockwork.NewFakeClock())
	results := d.Dispatch(context.Background(), testUser(), &model.Location{Latitude: 1, Longitude: 2})

	require.Len(t, results, 1)
	assert.Equal(t, model.ChannelCall, results[0].Channel)
	assert.Equal(t, "112", results[0].Phone)
	assert.True(t, results[0].Success)
	assert.True(t, results[0].Automatic)
	assert.Equal(t, []string{"112"}, dev.calls)
	assert.Empty(t, dev.texts)
	assert.Empty(t, dev.opened)
}

func TestPrimaryIsLowestPriority(t *testing.T) {
	dev := &fakeDevice{installed: map[string]bool{"whatsapp": true}}
	d := newTestDispatcher(dev, clockwork.NewFakeClock())
	user := testUser(
		model.EmergencyContact{Name: "Ravi", Phone: "+91 98111 11111", Priority: 2},
		model.EmergencyContact{Name: "Meera", Phone: "9822222222", Priority: 1},
	)
	results := d.Dispatch(context.Background(), user, nil)

	require.Len(t, results, 4)
	assert.Equal(t, model.ChannelCall, results[0].Channel)
	assert.Equal(t, "Meera", results[0].Contact)
	assert.Equal(t, []string{"9822222222"}, dev.calls)

	sms := byChannel(results, model.ChannelSMS)
	require.Len(t, sms, 2)
	assert.Equal(t, "Meera", sms[0].Contact)
	assert.Equal(t, "Ravi", sms[1].Contact)

	msg := byChannel(results, model.ChannelMessaging)
	require.Len(t, msg, 1)
	assert.Equal(t, "Meera", msg[0].Contact)
	assert.Equal(t, MethodMessagingApp, msg[0].Method)
	assert.False(t, msg[0].Automatic)
	require.Len(t, dev.opened, 1)
	assert.True(t, strings.HasPrefix(dev.opened[0], "whatsapp://send?phone=919822222222&text="))
}

func TestEqualPrioritiesKeepInputOrder(t *testing.T) {
	contacts := []model.EmergencyContact{
		{Name: "A", Phone: "1", Priority: 1},
		{Name: "B", Phone: "2", Priority: 1},
		{Name: "C", Phone: "3", Priority: 0},
	}
	sorted := SortContacts(contacts)
	assert.Equal(t, []string{"C", "A", "B"}, []string{sorted[0].Name, sorted[1].Name, sorted[2].Name})
	assert.Equal(t, "A", contacts[0].Name, "input must not be reordered")
}

func TestSMSFailureDoesNotStopLaterContacts(t *testing.T) {
	dev := &fakeDevice{
		smsErr:  map[string]error{"222": errors.New("carrier rejected")},
		openErr: errors.New("no sms app"),
	}
	d := newTestDispatcher(dev, clockwork.NewFakeClock())
	user := testUser(
		model.EmergencyContact{Name: "A", Phone: "111", Priority: 1},
		model.EmergencyContact{Name: "B", Phone: "222", Priority: 2},
		model.EmergencyContact{Name: "C", Phone: "333", Priority: 3},
	)
	results := d.Dispatch(context.Background(), user, nil)

	sms := byChannel(results, model.ChannelSMS)
	require.Len(t, sms, 3)
	assert.True(t, sms[0].Success)
	assert.False(t, sms[1].Success)
	assert.Contains(t, sms[1].Error, "carrier rejected")
	assert.True(t, sms[2].Success)
	assert.Equal(t, []string{"111", "222", "333"}, dev.texts)
	assert.Len(t, results, 5)
}

func TestSMSFallsBackToApp(t *testing.T) {
	dev := &fakeDevice{smsErr: map[string]error{"111": ErrCapabilityUnavailable}}
	d := newTestDispatcher(dev, clockwork.NewFakeClock())
	results := d.Dispatch(context.Background(), testUser(model.EmergencyContact{Name: "A", Phone: "111", Priority: 1}), nil)

	sms := byChannel(results, model.ChannelSMS)
	require.Len(t, sms, 1)
	assert.True(t, sms[0].Success)
	assert.False(t, sms[0].Automatic)
	assert.Equal(t, MethodSMSApp, sms[0].Method)
	assert.Equal(t, ErrCapabilityUnavailable.Error(), sms[0].Error)
	assert.True(t, strings.HasPrefix(dev.opened[0], "sms:111?body=%F0%9F%9A%A8%20AUTOMATIC"))
}

func TestCallFallsBackToDialer(t *testing.T) {
	dev := &fakeDevice{callErr: ErrCapabilityUnavailable}
	d := newTestDispatcher(dev, clockwork.NewFakeClock())
	results := d.CallPrimary(context.Background(), testUser(model.EmergencyContact{Name: "A", Phone: "+91111", Priority: 1}))

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.False(t, results[0].Automatic)
	assert.Equal(t, MethodDialer, results[0].Method)
	assert.Equal(t, ErrCapabilityUnavailable.Error(), results[0].Error)
	assert.Equal(t, []string{"tel:+91111"}, dev.opened)
}

func TestFailedSilentCallKeepsErrorWhenDialerOpens(t *testing.T) {
	dev := &fakeDevice{callErr: errors.New("twilio: 401 unauthorized")}
	d := newTestDispatcher(dev, clockwork.NewFakeClock())
	results := d.CallPrimary(context.Background(), testUser(model.EmergencyContact{Name: "A", Phone: "111", Priority: 1}))

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.False(t, results[0].Automatic)
	assert.Equal(t, MethodDialer, results[0].Method)
	assert.Equal(t, "twilio: 401 unauthorized", results[0].Error)
}

type panickyDevice struct {
	*fakeDevice
}

func (p panickyDevice) Call(context.Context, string) error {
	panic("call bridge gone")
}

func (p panickyDevice) Open(_ context.Context, rawURL string) error {
	if strings.HasPrefix(rawURL, "whatsapp:") {
		panic("launcher crashed")
	}
	return p.fakeDevice.Open(context.Background(), rawURL)
}

func TestPanickingChannelIsRecordedAsFailure(t *testing.T) {
	dev := panickyDevice{fakeDevice: &fakeDevice{installed: map[string]bool{"whatsapp": true}}}
	cfg := config.DefaultEmergency()
	cfg.MessagingDelay = 0
	d := New(cfg, dev, dev, dev, dev, clockwork.NewFakeClock(), nil)
	user := testUser(
		model.EmergencyContact{Name: "A", Phone: "111", Priority: 1},
		model.EmergencyContact{Name: "B", Phone: "222", Priority: 2},
	)

	var results []model.DispatchResult
	require.NotPanics(t, func() { results = d.Dispatch(context.Background(), user, nil) })
	require.Len(t, results, 4)

	assert.Equal(t, model.ChannelCall, results[0].Channel)
	assert.Equal(t, "A", results[0].Contact)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "call bridge gone")
	assert.False(t, results[0].At.IsZero())

	sms := byChannel(results, model.ChannelSMS)
	require.Len(t, sms, 2)
	assert.True(t, sms[0].Success)
	assert.True(t, sms[1].Success)

	msg := byChannel(results, model.ChannelMessaging)
	require.Len(t, msg, 1)
	assert.False(t, msg[0].Success)
	assert.Contains(t, msg[0].Error, "launcher crashed")

	require.NotPanics(t, func() { results = d.CallPrimary(context.Background(), user) })
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestPermissionDeniedSkipsChannelOnly(t *testing.T) {
	dev := &fakeDevice{denied: map[model.Permission]bool{model.PermissionCall: true}}
	d := newTestDispatcher(dev, clockwork.NewFakeClock())
	results := d.Dispatch(context.Background(), testUser(model.EmergencyContact{Name: "A", Phone: "111", Priority: 1}), nil)

	require.Len(t, results, 3)
	assert.False(t, results[0].Success)
	assert.Equal(t, ErrPermissionDenied.Error(), results[0].Error)
	assert.Empty(t, dev.calls)
	assert.True(t, results[1].Success)
	assert.Equal(t, model.ChannelSMS, results[1].Channel)
}

func TestMessagingFallsBackToWeb(t *testing.T) {
	dev := &fakeDevice{}
	d := newTestDispatcher(dev, clockwork.NewFakeClock())
	results := d.Dispatch(context.Background(), testUser(model.EmergencyContact{Name: "A", Phone: "98333-44444", Priority: 1}), nil)

	msg := byChannel(results, model.ChannelMessaging)
	require.Len(t, msg, 1)
	assert.True(t, msg[0].Success)
	assert.Equal(t, MethodMessagingWeb, msg[0].Method)
	require.Len(t, dev.opened, 1)
	assert.True(t, strings.HasPrefix(dev.opened[0], "https://wa.me/919833344444?text="))
}

func TestMessagingWaitsForDelay(t *testing.T) {
	dev := &fakeDevice{}
	clock := clockwork.NewFakeClock()
	cfg := config.DefaultEmergency()
	d := New(cfg, dev, dev, dev, dev, clock, nil)

	done := make(chan []model.DispatchResult, 1)
	go func() {
		done <- d.Dispatch(context.Background(), testUser(model.EmergencyContact{Name: "A", Phone: "111", Priority: 1}), nil)
	}()

	clock.BlockUntil(1)
	dev.mu.Lock()
	assert.Len(t, dev.texts, 1)
	assert.Empty(t, dev.opened)
	dev.mu.Unlock()

	clock.Advance(4 * time.Second)
	select {
	case <-done:
		t.Fatal("messaging fired before the delay")
	case <-time.After(20 * time.Millisecond):
	}
	clock.Advance(time.Second)
	select {
	case results := <-done:
		assert.Len(t, byChannel(results, model.ChannelMessaging), 1)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not finish after the delay")
	}
}

func TestMessageTemplate(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)
	got := FormatMessage("Asha Rao", at, &model.Location{Latitude: 12.9715987, Longitude: 77.5945627}, "Prativedak Safety App")
	want := "🚨 AUTOMATIC EMERGENCY ALERT 🚨\n\n" +
		"User: Asha Rao\n" +
		"Time: 2024-03-05T14:07:09\n" +
		"Location: 12.971599, 77.594563\n" +
		"Map: https://maps.google.com/?q=12.971599,77.594563\n\n" +
		"This is an AUTOMATIC alert from Prativedak Safety App. The user may be in danger and unable to respond."
	assert.Equal(t, want, got)
}

func TestMessageUnknownLocation(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)
	for _, loc := range []*model.Location{nil, {}, {Latitude: 12.97}, {Longitude: 77.59}} {
		got := FormatMessage("Asha", at, loc, "Prativedak Safety App")
		assert.Contains(t, got, "\nLocation unavailable\n")
		assert.NotContains(t, got, "maps.google.com")
		assert.NotContains(t, got, "0.000000")
	}
}

func TestMessagingNumber(t *testing.T) {
	assert.Equal(t, "919812345678", MessagingNumber("+91 98123-45678", "91"))
	assert.Equal(t, "919812345678", MessagingNumber("98123 45678", "91"))
	assert.Equal(t, "15550100", MessagingNumber("(555) 0100", "1"))
}
