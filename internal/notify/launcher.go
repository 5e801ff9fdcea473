package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"prativedak/internal/config"
	"prativedak/internal/events"
	"prativedak/internal/model"
)

type OpenURL struct {
	URL    string `json:"url"`
	Scheme string `json:"scheme"`
}

// RelayLauncher asks the phone to open a URL by publishing an open_url
// event. CanOpen answers from the schemes the phone reported as handled.
type RelayLauncher struct {
	publisher events.Publisher
	schemes   atomic.Value
}

func NewRelayLauncher(cfg config.LauncherConfig, publisher events.Publisher) *RelayLauncher {
	l := &RelayLauncher{publisher: publisher}
	l.UpdateConfig(cfg)
	return l
}

func (l *RelayLauncher) UpdateConfig(cfg config.LauncherConfig) {
	set := make(map[string]struct{}, len(cfg.InstalledSchemes))
	for _, s := range cfg.InstalledSchemes {
		set[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	l.schemes.Store(set)
}

func (l *RelayLauncher) CanOpen(_ context.Context, rawURL string) bool {
	scheme, err := schemeOf(rawURL)
	if err != nil {
		return false
	}
	set, _ := l.schemes.Load().(map[string]struct{})
	_, ok := set[scheme]
	return ok
}

func (l *RelayLauncher) Open(ctx context.Context, rawURL string) error {
	scheme, err := schemeOf(rawURL)
	if err != nil {
		return err
	}
	if l.publisher == nil {
		return fmt.Errorf("open %s: no device link", scheme)
	}
	ev := model.Event{
		Type:      model.EventOpenURL,
		Timestamp: time.Now().UTC(),
		Data:      OpenURL{URL: rawURL, Scheme: scheme},
	}
	if err := l.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("relay %s url: %w", scheme, err)
	}
	return nil
}

func schemeOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("url %q has no scheme", rawURL)
	}
	return strings.ToLower(u.Scheme), nil
}
