package practice

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/reminders"
)

// RemindersAdapter satisfies reminders.Practices on top of Store + ConfigCache.
type RemindersAdapter struct {
	Store  *Store
	Config *ConfigCache
}

// NewRemindersAdapter wires the dependencies the reminder pipeline needs
// from the practice domain.
func NewRemindersAdapter(store *Store, config *ConfigCache) *RemindersAdapter {
	return &RemindersAdapter{Store: store, Config: config}
}

func (a *RemindersAdapter) GetPractice(ctx context.Context, practiceID uuid.UUID) (*reminders.PracticeInfo, error) {
	p, err := a.Store.GetPractice(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	return &reminders.PracticeInfo{Name: p.Name, Timezone: p.Timezone, Phone: p.Phone}, nil
}

func (a *RemindersAdapter) GetPatient(ctx context.Context, practiceID, patientID uuid.UUID) (*reminders.PatientInfo, error) {
	p, err := a.Store.GetPatient(ctx, practiceID, patientID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("practice: patient %s not found", patientID)
	}
	return &reminders.PatientInfo{
		ID:                 p.ID,
		FirstName:          p.FirstName,
		LastName:           p.LastName,
		Phone:              p.Phone,
		LanguagePreference: p.LanguagePreference,
	}, nil
}

func (a *RemindersAdapter) Templates(ctx context.Context, practiceID uuid.UUID) (map[string]reminders.Templates, error) {
	cfg, err := a.Config.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]reminders.Templates, len(cfg.SMSTemplates))
	for lang, t := range cfg.SMSTemplates {
		out[lang] = reminders.Templates{
			Confirmation: t.Confirmation,
			TMinus24h:    t.TMinus24h,
			TMinus2h:     t.TMinus2h,
			NoShow:       t.NoShow,
		}
	}
	return out, nil
}

func (a *RemindersAdapter) Credentials(ctx context.Context, practiceID uuid.UUID) (*reminders.Credentials, error) {
	cfg, err := a.Config.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	if cfg.Credentials.SMSProviderToken == "" || cfg.Credentials.SMSSenderNumber == "" {
		return nil, fmt.Errorf("practice: sms credentials missing for %s", practiceID)
	}
	return &reminders.Credentials{FromNumber: cfg.Credentials.SMSSenderNumber, APIKey: cfg.Credentials.SMSProviderToken}, nil
}
