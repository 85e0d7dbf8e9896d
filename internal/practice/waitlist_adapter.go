package practice

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/messaging"
)

// WaitlistAdapter satisfies waitlist.Practices on top of Store + ConfigCache.
type WaitlistAdapter struct {
	Store  *Store
	Config *ConfigCache
}

// NewWaitlistAdapter wires the dependencies the waitlist engine needs from
// the practice domain.
func NewWaitlistAdapter(store *Store, config *ConfigCache) *WaitlistAdapter {
	return &WaitlistAdapter{Store: store, Config: config}
}

func (a *WaitlistAdapter) PracticeName(ctx context.Context, practiceID uuid.UUID) (string, error) {
	p, err := a.Store.GetPractice(ctx, practiceID)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

func (a *WaitlistAdapter) Credentials(ctx context.Context, practiceID uuid.UUID) (messaging.Credentials, error) {
	cfg, err := a.Config.Get(ctx, practiceID)
	if err != nil {
		return messaging.Credentials{}, err
	}
	if cfg.Credentials.SMSSenderNumber == "" || cfg.Credentials.SMSProviderToken == "" {
		return messaging.Credentials{}, fmt.Errorf("practice: sms credentials missing for %s", practiceID)
	}
	return messaging.Credentials{
		FromNumber: cfg.Credentials.SMSSenderNumber,
		APIKey:     cfg.Credentials.SMSProviderToken,
	}, nil
}
