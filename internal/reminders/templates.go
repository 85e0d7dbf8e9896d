package reminders

import "strings"

// Render substitutes named placeholders {patient_name, practice_name, date,
// time, phone} into tmpl. A placeholder absent from fields is left literal —
// spec §4.E explicitly forbids crashing on a missing value. This is a
// generalization of the teacher's rebooking.MessageTemplate, which picked a
// hardcoded Sprintf per service name; here templates are per-practice,
// per-language data, so substitution has to be data-driven instead.
func Render(tmpl string, fields map[string]string) string {
	if tmpl == "" {
		return ""
	}
	pairs := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// TemplateFor picks the stage's template string for a language, falling back
// to English, per spec §4.E "pick template by patient.language_preference,
// fall back to English".
func TemplateFor(byLanguage map[string]Templates, language string, stage Stage) string {
	set, ok := byLanguage[language]
	if !ok {
		set = byLanguage["en"]
	}
	switch stage {
	case StageConfirmation:
		return set.Confirmation
	case StageTMinus24h:
		return set.TMinus24h
	case StageTMinus2h:
		return set.TMinus2h
	case StageNoShow:
		return set.NoShow
	default:
		return ""
	}
}

// Templates groups the per-stage SMS template strings for one language —
// mirrors practice.Templates without importing the practice package
// directly from this file (the Practices interface in scheduler.go carries
// the conversion).
type Templates struct {
	Confirmation string
	TMinus24h    string
	TMinus2h     string
	NoShow       string
}
